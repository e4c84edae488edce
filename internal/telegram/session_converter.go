package telegram

import (
	"context"
	"errors"
	"fmt"

	"github.com/gotd/td/session"
	"github.com/gotd/td/session/tdesktop"

	"github.com/blockedby/tg-harvester/internal/models"
)

// ArtifactFromSessionData encodes gotd session data in the form a connection is seeded with.
func ArtifactFromSessionData(ctx context.Context, data *session.Data) ([]byte, error) {
	if data == nil {
		return nil, errors.New("session data is nil")
	}
	if len(data.AuthKey) == 0 {
		return nil, errors.New("session data has no auth key")
	}

	storage := &session.StorageMemory{}
	loader := session.Loader{Storage: storage}
	if err := loader.Save(ctx, data); err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}
	return storage.LoadSession(ctx)
}

// ImportSession stores externally obtained session data as the account's artifact
// and marks it connected. The session is not verified against the server.
func (m *Manager) ImportSession(ctx context.Context, acc models.Account, data *session.Data) error {
	artifact, err := ArtifactFromSessionData(ctx, data)
	if err != nil {
		return err
	}
	return m.saveArtifact(ctx, acc, artifact)
}

// TDesktopAccounts lists the accounts stored in a Telegram Desktop tdata directory.
func TDesktopAccounts(tdataPath string, passcode []byte) ([]tdesktop.Account, error) {
	accounts, err := tdesktop.Read(tdataPath, passcode)
	if err != nil {
		return nil, fmt.Errorf("read tdata: %w", err)
	}
	if len(accounts) == 0 {
		return nil, errors.New("tdata contains no accounts")
	}
	return accounts, nil
}

// ImportTDesktop converts one Telegram Desktop account into session data.
func ImportTDesktop(account tdesktop.Account) (*session.Data, error) {
	data, err := session.TDesktopSession(account)
	if err != nil {
		return nil, fmt.Errorf("convert tdata session: %w", err)
	}
	return data, nil
}
