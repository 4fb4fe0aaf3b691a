package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/fpang/social-scheduler/internal/store"
	"github.com/fpang/social-scheduler/internal/webhook"
)

// fieldDeauthorize is sent when a user removes the app from their account.
const fieldDeauthorize = "deauthorize"

// credentialStore is what the Meta event handler touches.
type credentialStore interface {
	UserForMetaAccount(ctx context.Context, metaUserID string) (string, error)
	SetMetaCredentials(ctx context.Context, userID string, creds *store.MetaCredentials) error
}

// metaEvents returns the EventFunc for Meta notifications: deauthorizations
// clear the stored credentials, everything else is logged.
func metaEvents(st credentialStore) webhook.EventFunc {
	return func(ctx context.Context, ev webhook.Event) error {
		logger := log.With().
			Str("object", ev.Object).
			Str("entryId", ev.EntryID).
			Str("field", ev.Field).
			Logger()

		if ev.Field != fieldDeauthorize {
			e := logger.Info()
			if len(ev.Value) > 0 {
				e = e.RawJSON("value", ev.Value)
			}
			e.Msg("Meta webhook event")
			return nil
		}

		userID, err := st.UserForMetaAccount(ctx, ev.EntryID)
		if err != nil {
			return fmt.Errorf("look up meta account %s: %w", ev.EntryID, err)
		}
		if userID == "" {
			logger.Warn().Msg("Deauthorization for an unknown Meta account")
			return nil
		}
		err = st.SetMetaCredentials(ctx, userID, nil)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("clear meta credentials for %s: %w", userID, err)
		}
		logger.Info().Str("userId", userID).Msg("Meta credentials cleared after deauthorization")
		return nil
	}
}
