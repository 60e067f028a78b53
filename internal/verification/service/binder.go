package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	accountdomain "github.com/GreenfieldTrail/keycloak-phone-provider/internal/account/domain"
)

// BindVerifiedPhone performs the identity-binding side effects of a
// successful validation: it restores the "one verified account per phone
// number" invariant, marks the account's phone verified, confirms the token,
// and reconciles pending actions and OTP-credential metadata.
//
// Conflict cleanup is a bounded fan-out with a continue-on-error policy: a
// failed cleanup on one conflicting account never aborts the primary bind.
// Errors from the bind and confirm steps are returned; cleanup and reconcile
// failures after them are logged only.
func (s *Service) BindVerifiedPhone(ctx context.Context, account *accountdomain.Account, phoneNumber, tokenID string) error {
	if !s.duplicateAllowed(account.RealmID) {
		if err := s.unbindConflicting(ctx, account, phoneNumber); err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{
				"realm": account.RealmID,
				"phone": phoneNumber,
			}).Warn("conflict cleanup incomplete")
		}
	}

	if err := s.accounts.SetPhone(ctx, account.ID, phoneNumber, true); err != nil {
		return fmt.Errorf("bind phone: %w", err)
	}
	account.PhoneNumber = phoneNumber
	account.PhoneNumberVerified = true

	if err := s.tokens.Confirm(ctx, tokenID, account.ID); err != nil {
		return fmt.Errorf("confirm token: %w", err)
	}

	s.cleanUpActions(ctx, account)
	s.reconcileOTPCredential(ctx, account, phoneNumber)
	return nil
}

// unbindConflicting un-verifies every other account in the realm holding the
// same phone number, asks each to re-verify, and removes their phone-otp
// credentials still scoped to that number (or to no number at all). A
// credential whose payload names a different number was already re-scoped
// and is left alone. Per-account failures are collected, not fatal.
func (s *Service) unbindConflicting(ctx context.Context, account *accountdomain.Account, phoneNumber string) error {
	others, err := s.accounts.FindByPhone(ctx, account.RealmID, phoneNumber)
	if err != nil {
		return err
	}

	var errs []error
	for _, other := range others {
		if other.ID == account.ID {
			continue
		}
		s.log.WithFields(logrus.Fields{
			"realm":   account.RealmID,
			"account": other.ID,
			"phone":   phoneNumber,
		}).Info("account also has this phone number, un-verifying")

		if err := s.accounts.SetPhoneVerified(ctx, other.ID, false); err != nil {
			errs = append(errs, fmt.Errorf("unverify %s: %w", other.ID, err))
			continue
		}
		if err := s.accounts.AddRequiredAction(ctx, other.ID, accountdomain.ActionUpdatePhoneNumber); err != nil {
			errs = append(errs, fmt.Errorf("require re-verify %s: %w", other.ID, err))
		}

		creds, err := s.accounts.ListCredentialsByType(ctx, other.ID, accountdomain.CredentialTypePhoneOTP)
		if err != nil {
			errs = append(errs, fmt.Errorf("list credentials %s: %w", other.ID, err))
			continue
		}
		for _, cred := range creds {
			data, err := cred.OTPData()
			if err != nil {
				s.log.WithError(err).WithField("credential", cred.ID).Warn("unknown format otp credential")
			} else if data.PhoneNumber != "" && data.PhoneNumber != other.PhoneNumber {
				// Already re-scoped to a different number; keep it.
				continue
			}
			if err := s.accounts.RemoveCredential(ctx, cred.ID); err != nil {
				errs = append(errs, fmt.Errorf("remove credential %s: %w", cred.ID, err))
			}
		}
	}
	return errors.Join(errs...)
}

// cleanUpActions removes the phone-related required actions that the
// successful verification just satisfied.
func (s *Service) cleanUpActions(ctx context.Context, account *accountdomain.Account) {
	for _, action := range []string{accountdomain.ActionUpdatePhoneNumber, accountdomain.ActionConfigSMSOTP} {
		if err := s.accounts.RemoveRequiredAction(ctx, account.ID, action); err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{
				"account": account.ID,
				"action":  action,
			}).Warn("could not remove required action")
		}
	}
}

// reconcileOTPCredential re-scopes the account's configured phone-otp
// credential to the newly bound number so future OTP validations target it.
func (s *Service) reconcileOTPCredential(ctx context.Context, account *accountdomain.Account, phoneNumber string) {
	creds, err := s.accounts.ListCredentialsByType(ctx, account.ID, accountdomain.CredentialTypePhoneOTP)
	if err != nil {
		s.log.WithError(err).WithField("account", account.ID).Warn("could not list otp credentials")
		return
	}
	if len(creds) == 0 {
		return
	}
	data := accountdomain.EncodeOTPData(phoneNumber)
	if err := s.accounts.UpdateCredentialData(ctx, creds[0].ID, data); err != nil {
		s.log.WithError(err).WithField("credential", creds[0].ID).Warn("could not update otp credential")
	}
}
