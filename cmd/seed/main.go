package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"go.uber.org/zap"

	"github.com/hackgods/mini-hms/internal/app"
	"github.com/hackgods/mini-hms/internal/appointment"
	"github.com/hackgods/mini-hms/internal/config"
	"github.com/hackgods/mini-hms/internal/db"
	"github.com/hackgods/mini-hms/internal/identity"
	redisclient "github.com/hackgods/mini-hms/internal/redis"
)

const slotLength = 30 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("config load error: " + err.Error())
	}

	log := app.NewLogger(cfg.Env)
	defer func() { _ = log.Sync() }()
	log.Info("seed starting")

	loc, err := cfg.Location()
	if err != nil {
		log.Fatal("invalid clinic timezone", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, 0)
	if err != nil {
		log.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	migrator, err := db.NewMigrator(pool, log)
	if err != nil {
		log.Fatal("migrator init", zap.Error(err))
	}
	if err := migrator.Up(ctx); err != nil {
		log.Fatal("migrate", zap.Error(err))
	}
	_ = migrator.Close()

	_ = gofakeit.Seed(time.Now().UnixNano())

	dir := identity.NewPgDirectory(pool)
	doctors := seedProfiles(ctx, dir, identity.RoleDoctor, getInt("SEED_DOCTORS", 10), log)
	patients := seedProfiles(ctx, dir, identity.RolePatient, getInt("SEED_PATIENTS", 200), log)

	svc := appointment.NewService(
		appointment.NewPgRepository(pool),
		redisclient.NewLocalSlotLocker(),
		nil,
		dir,
		appointment.NewSystemClock(loc),
		log,
	)
	created := seedSlots(ctx, svc, doctors, getInt("SEED_DAYS", 7), loc, log)

	log.Info("seed complete",
		zap.Int("doctors", len(doctors)),
		zap.Int("patients", len(patients)),
		zap.Int("slots", created),
	)

	auth := identity.NewAuthenticator(cfg.JWTSecret, cfg.TokenTTL)
	printTokens(auth, doctors, 1)
	printTokens(auth, patients, 3)
}

func seedProfiles(ctx context.Context, dir *identity.PgDirectory, role identity.Role, count int, log *zap.Logger) []identity.Profile {
	out := make([]identity.Profile, 0, count)

	for i := 0; i < count; i++ {
		first, last := gofakeit.FirstName(), gofakeit.LastName()
		p := identity.Profile{
			Name:   first + " " + last,
			Email:  strings.ToLower(fmt.Sprintf("%s.%s.%s@%s", first, last, gofakeit.LetterN(4), gofakeit.DomainName())),
			Mobile: gofakeit.Numerify("##########"),
			Role:   role,
		}
		if err := dir.InsertProfile(ctx, &p); err != nil {
			// unique mobile or email collisions are rare; skip them
			log.Warn("skipping profile", zap.String("role", string(role)), zap.Error(err))
			continue
		}
		out = append(out, p)
	}

	log.Info("profiles seeded", zap.String("role", string(role)), zap.Int("count", len(out)))
	return out
}

// seedSlots publishes half-hour slots from 09:00 to 17:00 for each doctor,
// starting today. Slots inside the lead window are skipped.
func seedSlots(ctx context.Context, svc *appointment.Service, doctors []identity.Profile, days int, loc *time.Location, log *zap.Logger) int {
	created := 0
	today := time.Now().In(loc)

	for _, doc := range doctors {
		actor := identity.Actor{ID: doc.ID, Role: identity.RoleDoctor}

		for d := 0; d < days; d++ {
			day := today.AddDate(0, 0, d)
			start := time.Date(day.Year(), day.Month(), day.Day(), 9, 0, 0, 0, loc)
			closing := time.Date(day.Year(), day.Month(), day.Day(), 17, 0, 0, 0, loc)

			for t := start; t.Before(closing); t = t.Add(slotLength) {
				if gofakeit.Float64() < 0.3 {
					continue
				}

				_, err := svc.CreateSlot(ctx, actor, appointment.SlotInput{
					Date:      t.Format(appointment.DateLayout),
					StartTime: t.Format(appointment.TimeLayout),
					EndTime:   t.Add(slotLength).Format(appointment.TimeLayout),
				})
				switch {
				case err == nil:
					created++
				case errors.Is(err, appointment.ErrTooSoon), errors.Is(err, appointment.ErrDuplicateSlot):
				default:
					log.Warn("create slot failed", zap.String("doctor_id", doc.ID.String()), zap.Error(err))
				}
			}
		}
	}

	return created
}

func printTokens(auth *identity.Authenticator, profiles []identity.Profile, n int) {
	for i := 0; i < n && i < len(profiles); i++ {
		p := profiles[i]
		token, err := auth.IssueToken(identity.Actor{ID: p.ID, Role: p.Role})
		if err != nil {
			continue
		}
		fmt.Printf("%s %s (%s): %s\n", p.Role, p.Name, p.Email, token)
	}
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
