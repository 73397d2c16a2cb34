package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hackgods/booking-engine/internal/config"
	"github.com/hackgods/booking-engine/internal/db"
	"github.com/hackgods/booking-engine/internal/logger"
)

type seedOptions struct {
	Companies                int
	LocationsPerCompany      int
	ProfessionalsPerLocation int
	PatientsPerCompany       int
	Seed                     uint64
}

var serviceCatalog = []struct {
	name     string
	duration int
}{
	{"Initial consultation", 60},
	{"Follow-up", 30},
	{"Physiotherapy session", 45},
	{"Nutrition review", 30},
	{"Dermatology check", 20},
	{"Dental cleaning", 40},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	lg, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	opts := seedOptions{
		Companies:                getInt("SEED_COMPANIES", 3),
		LocationsPerCompany:      getInt("SEED_LOCATIONS", 2),
		ProfessionalsPerLocation: getInt("SEED_PROFESSIONALS", 10),
		PatientsPerCompany:       getInt("SEED_PATIENTS", 3000),
		Seed:                     uint64(getInt("SEED_RANDOM", int(time.Now().UnixNano()%1_000_000))),
	}
	lg.Info("seed starting", zap.Any("options", opts))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{})
	cancel()
	if err != nil {
		lg.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	if err := db.RunMigrations(pool, lg); err != nil {
		lg.Fatal("run migrations", zap.Error(err))
	}

	s := &seeder{pool: pool, faker: gofakeit.New(opts.Seed), logger: lg, tz: cfg.DefaultTimeZone}
	for i := 0; i < opts.Companies; i++ {
		if err := s.seedCompany(context.Background(), opts); err != nil {
			lg.Fatal("seed company", zap.Int("index", i), zap.Error(err))
		}
	}

	lg.Info("seed complete")
}

type seeder struct {
	pool   *pgxpool.Pool
	faker  *gofakeit.Faker
	logger *zap.Logger
	tz     string
}

// seedCompany writes one tenant in a single transaction: policy, services,
// locations with opening hours, professionals with their weekly hours,
// special schedules, blocks and patients.
func (s *seeder) seedCompany(ctx context.Context, opts seedOptions) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	companyID := uuid.New()
	companyName := s.faker.Company()
	if _, err := tx.Exec(ctx, `INSERT INTO companies (id, name) VALUES ($1, $2)`, companyID, companyName); err != nil {
		return fmt.Errorf("insert company: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO booking_policies (
			company_id, minimum_booking_time_minutes, maximum_future_time_days,
			editable_bookings, cancellable_bookings, minimum_edit_time_minutes,
			maximum_edits, time_zone
		) VALUES ($1, $2, $3, true, true, $4, $5, $6)
	`, companyID,
		s.faker.RandomInt([]int{0, 30, 60, 120}),
		s.faker.RandomInt([]int{30, 60, 90}),
		s.faker.RandomInt([]int{60, 120, 1440}),
		s.faker.Number(1, 5),
		s.tz,
	); err != nil {
		return fmt.Errorf("insert booking policy: %w", err)
	}

	serviceIDs := make([]uuid.UUID, 0, len(serviceCatalog))
	for _, svc := range serviceCatalog {
		id := uuid.New()
		if _, err := tx.Exec(ctx, `
			INSERT INTO services (id, company_id, name, duration_minutes) VALUES ($1, $2, $3, $4)
		`, id, companyID, svc.name, svc.duration); err != nil {
			return fmt.Errorf("insert service: %w", err)
		}
		serviceIDs = append(serviceIDs, id)
	}

	professionals := 0
	for l := 0; l < opts.LocationsPerCompany; l++ {
		locationID := uuid.New()
		if _, err := tx.Exec(ctx, `
			INSERT INTO locations (id, company_id, name) VALUES ($1, $2, $3)
		`, locationID, companyID, s.faker.City()+" Clinic"); err != nil {
			return fmt.Errorf("insert location: %w", err)
		}

		// Location hours, Monday to Saturday 08:00-20:00.
		for wd := 0; wd < 6; wd++ {
			if _, err := tx.Exec(ctx, `
				INSERT INTO weekly_availability (id, location_id, weekday, start_time, end_time)
				VALUES ($1, $2, $3, '08:00', '20:00')
			`, uuid.New(), locationID, wd); err != nil {
				return fmt.Errorf("insert location hours: %w", err)
			}
		}

		for p := 0; p < opts.ProfessionalsPerLocation; p++ {
			if err := s.seedProfessional(ctx, tx, companyID, locationID, serviceIDs); err != nil {
				return err
			}
			professionals++
		}
	}

	if err := s.seedPatients(ctx, tx, companyID, opts.PatientsPerCompany); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	s.logger.Info("company seeded",
		zap.String("company_id", companyID.String()),
		zap.String("name", companyName),
		zap.Int("professionals", professionals),
		zap.Int("patients", opts.PatientsPerCompany),
	)
	return nil
}

func (s *seeder) seedProfessional(ctx context.Context, tx pgx.Tx, companyID, locationID uuid.UUID, serviceIDs []uuid.UUID) error {
	id := uuid.New()
	if _, err := tx.Exec(ctx, `
		INSERT INTO professionals (id, company_id, location_id, name) VALUES ($1, $2, $3, $4)
	`, id, companyID, locationID, "Dr. "+s.faker.Name()); err != nil {
		return fmt.Errorf("insert professional: %w", err)
	}

	// One in five professionals has no weekly hours and falls back to the location's.
	if s.faker.Number(1, 5) == 1 {
		return nil
	}

	split := s.faker.Bool()
	for wd := 0; wd < 5; wd++ {
		ranges := [][2]string{{"09:00", "17:00"}}
		if split {
			ranges = [][2]string{{"08:00", "12:00"}, {"13:00", "18:00"}}
		}
		for _, r := range ranges {
			if _, err := tx.Exec(ctx, `
				INSERT INTO weekly_availability (id, professional_id, weekday, start_time, end_time)
				VALUES ($1, $2, $3, $4, $5)
			`, uuid.New(), id, wd, r[0], r[1]); err != nil {
				return fmt.Errorf("insert professional hours: %w", err)
			}
		}
	}

	today := time.Now().UTC().Truncate(24 * time.Hour)

	// A short Saturday clinic two weeks out, restricted to the first service.
	saturday := today.AddDate(0, 0, 14)
	for saturday.Weekday() != time.Saturday {
		saturday = saturday.AddDate(0, 0, 1)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO special_schedules (id, professional_id, date, start_time, end_time, service_ids)
		VALUES ($1, $2, $3, '10:00', '13:00', $4)
	`, uuid.New(), id, saturday.Format(time.DateOnly), []string{serviceIDs[0].String()}); err != nil {
		return fmt.Errorf("insert special schedule: %w", err)
	}

	// Daily lunch break on weekdays.
	if _, err := tx.Exec(ctx, `
		INSERT INTO professional_blocks (id, professional_id, block_type, start_date, start_time, end_time, weekdays_pattern, reason)
		VALUES ($1, $2, 'weekdays_pattern', $3, '12:30', '13:00', $4, 'lunch')
	`, uuid.New(), id, today.Format(time.DateOnly), []int16{0, 1, 2, 3, 4}); err != nil {
		return fmt.Errorf("insert lunch block: %w", err)
	}

	// Monthly admin day and an occasional vacation.
	if _, err := tx.Exec(ctx, `
		INSERT INTO professional_blocks (id, professional_id, block_type, start_date, monthly_day_of_month, reason)
		VALUES ($1, $2, 'monthly_recurring', $3, $4, 'admin day')
	`, uuid.New(), id, today.Format(time.DateOnly), s.faker.Number(1, 28)); err != nil {
		return fmt.Errorf("insert monthly block: %w", err)
	}
	if s.faker.Bool() {
		start := today.AddDate(0, 0, s.faker.Number(7, 60))
		if _, err := tx.Exec(ctx, `
			INSERT INTO professional_blocks (id, professional_id, block_type, start_date, end_date, reason)
			VALUES ($1, $2, 'date_range', $3, $4, 'vacation')
		`, uuid.New(), id, start.Format(time.DateOnly), start.AddDate(0, 0, s.faker.Number(2, 10)).Format(time.DateOnly)); err != nil {
			return fmt.Errorf("insert vacation block: %w", err)
		}
	}

	return nil
}

func (s *seeder) seedPatients(ctx context.Context, tx pgx.Tx, companyID uuid.UUID, count int) error {
	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		rows := make([][]any, 0, end-offset)
		for i := offset; i < end; i++ {
			rows = append(rows, []any{uuid.New(), companyID, s.faker.Name(), s.faker.Email()})
		}
		if _, err := tx.CopyFrom(ctx,
			pgx.Identifier{"patients"},
			[]string{"id", "company_id", "name", "email"},
			pgx.CopyFromRows(rows),
		); err != nil {
			return fmt.Errorf("copy patients: %w", err)
		}
	}
	return nil
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
