package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mdp/qrterminal/v3"

	"github.com/blockedby/tg-harvester/internal/config"
	"github.com/blockedby/tg-harvester/internal/database"
	"github.com/blockedby/tg-harvester/internal/logger"
	"github.com/blockedby/tg-harvester/internal/models"
	"github.com/blockedby/tg-harvester/internal/repository"
	"github.com/blockedby/tg-harvester/internal/telegram"
)

func main() {
	method := flag.String("method", "", "login method: phone, qr or tdata (asked when empty)")
	phone := flag.String("phone", "", "account phone number in international format")
	tdataPath := flag.String("tdata", "", "telegram desktop tdata directory (tdata method)")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		fail("load config: %v", err)
	}
	log := logger.Nop()
	if cfg.LogLevel == "debug" {
		log, _ = logger.New(logger.Options{Level: "debug", Out: os.Stderr})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Println("=== telegram account login ===")
	reader := bufio.NewReader(os.Stdin)

	if *phone == "" {
		*phone = prompt(reader, "phone number (with country code, e.g. +1234567890): ")
	}
	if models.SessionKey(*phone) == "" {
		fail("phone number must contain digits")
	}

	// the registry is optional: without it the artifact is written but no state is recorded
	var states telegram.StateStore
	acc := models.Account{PhoneNumber: *phone, APIID: cfg.TGApiID, APIHash: cfg.TGApiHash}
	if db, err := database.New(ctx, cfg.DatabaseURL); err != nil {
		fmt.Printf("database unavailable (%v), the session file will not be registered\n", err)
	} else {
		defer db.Close()
		repo := repository.NewAccountsRepository(db.Pool)
		if existing, err := repo.GetByPhone(ctx, *phone); err == nil && existing != nil {
			acc = *existing
			states = repo
			fmt.Printf("using registered account #%d (%s)\n", acc.ID, acc.Name)
		}
	}
	if acc.APIID == 0 || acc.APIHash == "" {
		acc.APIID, acc.APIHash = askAPICredentials(reader)
	}

	artifacts, err := telegram.NewArtifactStore(cfg.SessionsDir)
	if err != nil {
		fail("%v", err)
	}
	opts := telegram.DefaultManagerOptions()
	opts.ChallengeTTL = cfg.ChallengeTTL
	manager := telegram.NewManager(artifacts, states, opts, log)
	defer manager.Stop()

	if *method == "" {
		fmt.Println()
		fmt.Println("choose login method:")
		fmt.Println("  1. login code (sent to telegram or sms)")
		fmt.Println("  2. qr code (scan with a logged in telegram app)")
		fmt.Println("  3. import telegram desktop session")
		switch prompt(reader, "enter choice [1]: ") {
		case "2":
			*method = "qr"
		case "3":
			*method = "tdata"
		default:
			*method = "phone"
		}
	}

	switch *method {
	case "phone":
		err = loginWithCode(ctx, manager, acc, reader)
	case "qr":
		err = loginWithQR(ctx, manager, acc)
	case "tdata":
		err = importTData(ctx, manager, acc, *tdataPath, reader)
	default:
		err = fmt.Errorf("unknown method %q", *method)
	}
	if err != nil {
		fail("%v", err)
	}

	fmt.Println("\n✓ authentication successful!")
	fmt.Printf("session stored at: %s\n", artifacts.Path(acc))
	fmt.Println("\n⚠️  keep this file secret! it provides full access to your telegram account")
}

func loginWithCode(ctx context.Context, m *telegram.Manager, acc models.Account, reader *bufio.Reader) error {
	res, err := m.RequestConnection(ctx, acc)
	if err != nil {
		return fmt.Errorf("request code: %w", err)
	}
	if res.AlreadyConnected {
		fmt.Println("stored session is already authorized")
		return nil
	}

	password := ""
	for attempt := 0; attempt < 3; attempt++ {
		code := prompt(reader, "enter the code you received: ")
		err = m.VerifyCode(ctx, acc, code, res.ChallengeHash, password)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, telegram.ErrPasswordRequired):
			password = prompt(reader, "two-factor password: ")
			err = m.VerifyCode(ctx, acc, code, res.ChallengeHash, password)
			if err == nil {
				return nil
			}
			if !errors.Is(err, telegram.ErrInvalidCredentials) {
				return err
			}
			fmt.Println("wrong password, try again")
			password = ""
		case errors.Is(err, telegram.ErrInvalidCode):
			fmt.Println("invalid code, a new one was requested")
			if res, err = m.RequestConnection(ctx, acc); err != nil {
				return fmt.Errorf("request code: %w", err)
			}
		default:
			return err
		}
	}
	return errors.New("too many failed attempts")
}

func loginWithQR(ctx context.Context, m *telegram.Manager, acc models.Account) error {
	fmt.Println("\nscan the code in telegram: settings > devices > link desktop device")
	return m.LoginQR(ctx, acc, func(url string) {
		fmt.Println()
		qrterminal.GenerateWithConfig(url, qrterminal.Config{
			Level:     qrterminal.L,
			Writer:    os.Stdout,
			BlackChar: qrterminal.BLACK,
			WhiteChar: qrterminal.WHITE,
			QuietZone: 1,
		})
		fmt.Println("waiting for confirmation... (the code refreshes automatically)")
	})
}

func importTData(ctx context.Context, m *telegram.Manager, acc models.Account, path string, reader *bufio.Reader) error {
	if path == "" {
		path = defaultTDataPath()
	}
	accounts, err := telegram.TDesktopAccounts(path, nil)
	if err != nil {
		custom := prompt(reader, fmt.Sprintf("no session at %s, enter telegram desktop path: ", path))
		if custom == "" {
			return err
		}
		if !strings.HasSuffix(custom, "tdata") {
			custom = filepath.Join(custom, "tdata")
		}
		if accounts, err = telegram.TDesktopAccounts(custom, nil); err != nil {
			return err
		}
	}

	idx := 0
	if len(accounts) > 1 {
		fmt.Printf("\nfound %d telegram desktop accounts\n", len(accounts))
		if n, err := strconv.Atoi(prompt(reader, "select account number [1]: ")); err == nil && n >= 1 && n <= len(accounts) {
			idx = n - 1
		}
	}

	data, err := telegram.ImportTDesktop(accounts[idx])
	if err != nil {
		return err
	}
	if err := m.ImportSession(ctx, acc, data); err != nil {
		return err
	}

	ok, err := m.CheckStatus(ctx, acc)
	if err != nil {
		return fmt.Errorf("verify imported session: %w", err)
	}
	if !ok {
		return errors.New("imported session is not authorized")
	}
	return nil
}

// defaultTDataPath returns the path to Telegram Desktop data directory
func defaultTDataPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "Telegram Desktop", "tdata")
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", "Telegram Desktop", "tdata")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "TelegramDesktop", "tdata")
	}
}

func askAPICredentials(reader *bufio.Reader) (int, string) {
	apiID, err := strconv.Atoi(prompt(reader, "enter your api_id (from https://my.telegram.org): "))
	if err != nil {
		fail("invalid api_id: %v", err)
	}
	return apiID, prompt(reader, "enter your api_hash: ")
}

func prompt(reader *bufio.Reader, label string) string {
	fmt.Print(label)
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line)
}

func fail(format string, args ...any) {
	fmt.Printf("error: "+format+"\n", args...)
	os.Exit(1)
}
