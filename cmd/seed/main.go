package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logger"
)

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}
	if cfg.StoreDriver != config.StoreDriverPostgres {
		fmt.Fprintln(os.Stderr, "seed requires STORE_DRIVER=postgres")
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	log.Info("seed starting")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	if err := db.Migrate(context.Background(), pool); err != nil {
		log.Fatal("migrate", zap.Error(err))
	}

	gofakeit.Seed(time.Now().UnixNano())

	repo := appointment.NewPgRepository(pool)

	if err := seedDoctors(context.Background(), log, repo, envInt("SEED_DOCTORS", 100)); err != nil {
		log.Fatal("seed doctors", zap.Error(err))
	}
	if err := seedPatients(context.Background(), log, repo, envInt("SEED_PATIENTS", 9000)); err != nil {
		log.Fatal("seed patients", zap.Error(err))
	}

	log.Info("seed complete")
}

// seedDoctors inserts count doctors in one transaction. About one in ten is
// created inactive so rejections show up in simulations.
func seedDoctors(ctx context.Context, log *zap.Logger, repo *appointment.PgRepository, count int) error {
	log.Info("seeding doctors", zap.Int("count", count))

	return repo.WithTx(ctx, func(ctx context.Context, tx appointment.Repository) error {
		for i := 0; i < count; i++ {
			_, err := tx.InsertDoctor(ctx, appointment.NewDoctor{
				FullName:  "Dr. " + gofakeit.Name(),
				Specialty: specialties[gofakeit.Number(0, len(specialties)-1)],
				IsActive:  gofakeit.Number(1, 10) > 1,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func seedPatients(ctx context.Context, log *zap.Logger, repo *appointment.PgRepository, count int) error {
	log.Info("seeding patients", zap.Int("count", count))

	const batchSize = 500
	skipped := 0

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		err := repo.WithTx(ctx, func(ctx context.Context, tx appointment.Repository) error {
			for i := offset; i < end; i++ {
				np := appointment.NewPatient{
					FirstName:   gofakeit.FirstName(),
					LastName:    gofakeit.LastName(),
					Email:       appointment.NormalizeEmail(gofakeit.Email()),
					PhoneNumber: gofakeit.Phone(),
				}

				// faker emails repeat now and then
				_, err := tx.GetPatientByEmail(ctx, np.Email)
				if err == nil {
					skipped++
					continue
				}
				if !errors.Is(err, appointment.ErrPatientNotFound) {
					return err
				}

				if _, err := tx.InsertPatient(ctx, np); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}

		log.Info("patients seeded", zap.Int("done", end), zap.Int("total", count))
	}

	if skipped > 0 {
		log.Info("skipped duplicate emails", zap.Int("count", skipped))
	}
	return nil
}

func envInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}
