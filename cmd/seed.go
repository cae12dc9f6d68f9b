package cmd

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/rollmark/rollmark/internal/config"
	"github.com/rollmark/rollmark/internal/constants"
	"github.com/rollmark/rollmark/internal/database"
	"github.com/rollmark/rollmark/internal/database/postgres"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with demo data",
	Long: `Creates demo subjects and students, enrolls the students and backfills
attendance history for the given number of school days. Intended for local
development and demos, not for production databases.`,
	RunE: runSeed,
}

func init() {
	seedCmd.Flags().Int("days", 30, "Number of past school days to backfill")
	seedCmd.Flags().String("teacher", "teacher-demo", "Teacher ID that owns the demo subjects")
	rootCmd.AddCommand(seedCmd)
}

var seedSubjects = []struct {
	name string
	code string
}{
	{"Mathematics", "MATH-101"},
	{"Physics", "PHYS-201"},
	{"Literature", "LIT-110"},
}

var seedStudents = []string{
	"Jana Nováková",
	"Petr Svoboda",
	"Eva Dvořáková",
	"Tomáš Černý",
	"Lucie Procházková",
	"Martin Kučera",
	"Anna Veselá",
	"Jakub Horák",
}

func runSeed(cmd *cobra.Command, args []string) error {
	days := mustGetInt(cmd, "days")
	teacherID := mustGetString(cmd, "teacher")

	cfg := config.Load()
	if cfg.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL environment variable is required")
	}

	pool, err := postgres.NewPool(&cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	ctx := cmd.Context()

	if err := pool.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	subjectRepo := postgres.NewSubjectRepository(pool)
	studentRepo := postgres.NewStudentRepository(pool)
	ledgerRepo := postgres.NewLedgerRepository(pool)

	students := make([]database.Student, 0, len(seedStudents))
	for _, name := range seedStudents {
		student := database.Student{
			ID:   uuid.NewString(),
			Name: name,
			Roll: fmt.Sprintf("%02d", len(students)+1),
		}
		if err := studentRepo.CreateStudent(ctx, &student); err != nil {
			return fmt.Errorf("creating student %q: %w", name, err)
		}
		students = append(students, student)
	}

	subjects := make([]database.Subject, 0, len(seedSubjects))
	for _, s := range seedSubjects {
		subject := database.Subject{
			ID:         uuid.NewString(),
			Name:       s.name,
			Code:       s.code,
			TeacherIDs: []string{teacherID},
		}
		if err := subjectRepo.CreateSubject(ctx, &subject); err != nil {
			return fmt.Errorf("creating subject %q: %w", s.name, err)
		}
		for _, student := range students {
			if err := subjectRepo.EnrollStudent(ctx, subject.ID, student.ID); err != nil {
				return fmt.Errorf("enrolling %s in %s: %w", student.Name, subject.Name, err)
			}
		}
		subjects = append(subjects, subject)
	}

	fmt.Printf("Created %d subjects and %d students\n\n", len(subjects), len(students))

	schoolDays := pastSchoolDays(time.Now(), days)
	bar := progressbar.NewOptions(len(schoolDays),
		progressbar.OptionSetDescription("Backfilling attendance"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("days"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)

	rng := rand.New(rand.NewSource(42))
	for _, day := range schoolDays {
		for _, subject := range subjects {
			present, absent := splitAttendance(rng, students)
			if _, err := ledgerRepo.ApplyMarks(ctx, subject.ID, day, present, absent); err != nil {
				return fmt.Errorf("backfilling %s on %s: %w", subject.Name, day, err)
			}
		}
		_ = bar.Add(1)
	}

	fmt.Printf("\nBackfilled %d school days of attendance\n", len(schoolDays))
	return nil
}

// pastSchoolDays returns the last n weekdays before today, oldest first.
func pastSchoolDays(now time.Time, n int) []string {
	days := make([]string, 0, n)
	day := now.AddDate(0, 0, -1)
	for len(days) < n {
		if wd := day.Weekday(); wd != time.Saturday && wd != time.Sunday {
			days = append(days, day.Format(constants.DateLayout))
		}
		day = day.AddDate(0, 0, -1)
	}
	// Reverse into chronological order.
	for i, j := 0, len(days)-1; i < j; i, j = i+1, j-1 {
		days[i], days[j] = days[j], days[i]
	}
	return days
}

// splitAttendance marks roughly 85% of the class present on a given day.
func splitAttendance(rng *rand.Rand, students []database.Student) (present, absent []string) {
	for _, s := range students {
		if rng.Float64() < 0.85 {
			present = append(present, s.ID)
		} else {
			absent = append(absent, s.ID)
		}
	}
	return present, absent
}
