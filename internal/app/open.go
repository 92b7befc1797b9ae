package app

import (
	"fmt"
	"log/slog"

	"github.com/alexjbarnes/pairchat/internal/config"
	"github.com/alexjbarnes/pairchat/internal/contacts"
	"github.com/alexjbarnes/pairchat/internal/drive"
	"github.com/alexjbarnes/pairchat/internal/google"
	"github.com/alexjbarnes/pairchat/internal/models"
	"github.com/alexjbarnes/pairchat/internal/state"
)

// Open builds a client from configuration: it opens the state database
// and wires the Google provider and the Drive client. The returned close
// function releases the database.
func Open(cfg *config.Config, logger *slog.Logger) (*Client, func() error, error) {
	st, err := state.Load(cfg.StatePath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading state: %w", err)
	}

	var book map[string]models.PeerProfile
	if cfg.EnableContacts {
		book, err = contacts.LoadBook(cfg.ContactsFile)
		if err != nil {
			logger.Warn("ignoring address book", slog.String("error", err.Error()))
		}
	}

	provider := google.NewProvider(google.Config{
		ClientID:       cfg.ClientID,
		ClientSecret:   cfg.ClientSecret,
		ReadyTimeout:   cfg.ProviderReadyTimeout,
		ConsentTimeout: cfg.ConsentTimeout,
	}, nil, logger.With(slog.String("component", "google")))

	client, err := New(Options{
		Storage:            st,
		Provider:           provider,
		Documents:          drive.NewClient(nil, cfg.DriveFileName),
		SharedIdentityFile: cfg.SharedIdentityFile,
		SafetyMargin:       cfg.GrantSafetyMargin,
		EnableContacts:     cfg.EnableContacts,
		AddressBook:        book,
		Logger:             logger,
	})
	if err != nil {
		st.Close()
		return nil, nil, err
	}

	return client, st.Close, nil
}
