package guard

import (
	"errors"

	billingprofiledomain "github.com/smallbiznis/storagebill/internal/billingprofile/domain"
	sourcedomain "github.com/smallbiznis/storagebill/internal/source/domain"
)

var (
	ErrProfileNotActive      = errors.New("profile_not_active")
	ErrNoAutoGeneration      = errors.New("profile_no_auto_generation")
	ErrNotImmediateProfile   = errors.New("profile_not_immediate")
	ErrEventNotCompleted     = errors.New("service_event_not_completed")
	ErrEventCustomerMismatch = errors.New("service_event_customer_mismatch")
)

// EnsureProfileCanGenerate is checked before a batch opens a customer's
// transaction. Malformed profiles surface as billingerr.ErrMalformedProfile.
func EnsureProfileCanGenerate(profile billingprofiledomain.BillingProfile) error {
	if !profile.Active {
		return ErrProfileNotActive
	}
	if !profile.AutoGenerateStorage && !profile.AutoGenerateService {
		return ErrNoAutoGeneration
	}
	return profile.Validate()
}

func EnsureEventCanBillImmediately(profile billingprofiledomain.BillingProfile, event sourcedomain.ServiceEvent) error {
	if !profile.Active {
		return ErrProfileNotActive
	}
	if profile.ServiceCycle != billingprofiledomain.ServiceCycleImmediate {
		return ErrNotImmediateProfile
	}
	if event.CustomerID != profile.CustomerID {
		return ErrEventCustomerMismatch
	}
	if event.Status != sourcedomain.EventStatusCompleted || event.CompletedOn == nil {
		return ErrEventNotCompleted
	}
	return nil
}
