package usecase

import (
	"context"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/spoke-identity-sync/internal/alert"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/apperrors"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/config"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/spoke"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/storage"
	"gitlab.com/timkado/api/spoke-identity-sync/pkg/logger"
)

const (
	// SystemName tags every canonical row created from Spoke data.
	SystemName = "spoke"
	// ContactType is the channel of every Spoke contact.
	ContactType = "sms"
	// OptOutReason is recorded on subscriptions closed by a Spoke opt-out.
	OptOutReason = "spoke:opt_out"

	HandlerNewMessage = "handle_new_message"
	HandlerNewOptOut  = "handle_new_opt_out"
	HandlerCampaign   = "handle_campaign"
)

// entryPoint is the audit tag of a handler, e.g. spoke:handle_new_message.
func entryPoint(handler string) string {
	return SystemName + ":" + handler
}

// SyncService holds the per-record handlers that merge Spoke records into the canonical store.
type SyncService struct {
	spoke    spoke.Client
	members  storage.MemberRepo
	contacts storage.ContactRepo
	alerts   alert.Alerter

	optOutSubscriptionID uint
}

// NewSyncService wires the handlers to their collaborators.
func NewSyncService(
	client spoke.Client,
	members storage.MemberRepo,
	contacts storage.ContactRepo,
	alerts alert.Alerter,
	cfg config.SpokeConfig,
) *SyncService {
	if alerts == nil {
		alerts = alert.NewNotifier(nil, "")
	}
	return &SyncService{
		spoke:                client,
		members:              members,
		contacts:             contacts,
		alerts:               alerts,
		optOutSubscriptionID: cfg.OptOutSubscriptionID,
	}
}

// handleRepositoryError classifies a store error for the handler's caller.
// Handlers are never retried, so the classification only drives logging.
func handleRepositoryError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	log := logger.FromContext(ctx)
	fields := []zap.Field{zap.String("operation", operation), zap.Error(err)}

	switch {
	case apperrors.IsValidationError(err), apperrors.IsBadRequestError(err):
		log.Warn("Repository operation failed: Invalid data", fields...)
		return apperrors.NewFatal(err, "%s failed: invalid data", operation)
	case apperrors.IsDuplicateError(err), apperrors.IsConflictError(err):
		log.Warn("Repository operation failed: Conflict", fields...)
		return apperrors.NewFatal(err, "%s failed: conflict", operation)
	case apperrors.IsNotFoundError(err):
		log.Warn("Repository operation failed: Not found", fields...)
		return apperrors.NewFatal(err, "%s failed: resource not found", operation)
	case apperrors.IsDatabaseError(err), apperrors.IsExternalStoreError(err):
		log.Error("Repository operation failed: Store error", fields...)
		return apperrors.NewRetryable(err, "%s failed: store error", operation)
	}

	log.Error("Repository operation failed: Unexpected error", fields...)
	return apperrors.NewFatal(err, "%s failed: unexpected repository error", operation)
}
