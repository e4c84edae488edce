package telegram

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/celestix/gotgproto/storage"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/blockedby/tg-harvester/internal/models"
)

// ArtifactStore keeps one session artifact per account as a small SQLite file.
// The file holds a single gotgproto sessions row, so it can be opened by gotgproto tools as well.
type ArtifactStore struct {
	dir string
}

// NewArtifactStore creates the store rooted at dir.
func NewArtifactStore(dir string) (*ArtifactStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}
	return &ArtifactStore{dir: dir}, nil
}

// Path returns the artifact file of an account.
func (s *ArtifactStore) Path(acc models.Account) string {
	key := acc.SessionKey()
	if key == "" {
		key = fmt.Sprintf("account_%d", acc.ID)
	}
	return filepath.Join(s.dir, key+".session")
}

// Exists reports whether the account has an artifact file.
func (s *ArtifactStore) Exists(acc models.Account) bool {
	info, err := os.Stat(s.Path(acc))
	return err == nil && info.Size() > 0
}

// Load returns the artifact bytes, or nil when the account has none.
func (s *ArtifactStore) Load(acc models.Account) ([]byte, error) {
	if !s.Exists(acc) {
		return nil, nil
	}

	db, closeDB, err := s.open(acc)
	if err != nil {
		return nil, err
	}
	defer closeDB()

	var row storage.Session
	err = db.Where("version = ?", storage.LatestVersion).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("read session artifact: %w", err)
	}
	return row.Data, nil
}

// Save overwrites the artifact of the account.
func (s *ArtifactStore) Save(acc models.Account, data []byte) error {
	if len(data) == 0 {
		return errors.New("refusing to save empty session artifact")
	}

	db, closeDB, err := s.open(acc)
	if err != nil {
		return err
	}
	defer closeDB()

	row := &storage.Session{Version: storage.LatestVersion, Data: data}
	if err := db.Save(row).Error; err != nil {
		return fmt.Errorf("write session artifact: %w", err)
	}
	return nil
}

// Delete removes the artifact file. Missing files are not an error.
func (s *ArtifactStore) Delete(acc models.Account) error {
	if err := os.Remove(s.Path(acc)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete session artifact: %w", err)
	}
	return nil
}

func (s *ArtifactStore) open(acc models.Account) (*gorm.DB, func(), error) {
	db, err := gorm.Open(sqlite.Open(s.Path(acc)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open session artifact: %w", err)
	}
	closeDB := func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	if err := db.AutoMigrate(&storage.Session{}); err != nil {
		closeDB()
		return nil, nil, fmt.Errorf("migrate session artifact: %w", err)
	}
	if err := os.Chmod(s.Path(acc), 0o600); err != nil {
		closeDB()
		return nil, nil, fmt.Errorf("protect session artifact: %w", err)
	}
	return db, closeDB, nil
}
