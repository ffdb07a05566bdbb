package storage

import (
	"context"
	"io/fs"
	"log/slog"
	"testing"
	"time"

	"github.com/md-rashed-zaman/tutorslots/services/availability-service/internal/availability"
	"github.com/md-rashed-zaman/tutorslots/services/availability-service/internal/booking/bookingtest"
	"github.com/md-rashed-zaman/tutorslots/services/availability-service/migrations"
)

func TestDemoProfilesAreValid(t *testing.T) {
	for _, p := range DemoProfiles(time.Now()) {
		if err := availability.Validate(p.Rules, p.Exceptions, p.Timezone); err != nil {
			t.Fatalf("profile %s: %v", p.TutorID, err)
		}
	}
}

func TestSeedWritesProfiles(t *testing.T) {
	store := bookingtest.New()
	ctx := context.Background()
	if err := Seed(ctx, store, slog.New(slog.DiscardHandler)); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	p, err := store.TutorProfile(ctx, "tutor-tokyo")
	if err != nil {
		t.Fatalf("TutorProfile: %v", err)
	}
	if p.Timezone != "Asia/Tokyo" || len(p.Rules) != 1 {
		t.Fatalf("unexpected profile %+v", p)
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	names, err := fs.Glob(migrations.FS, "*.sql")
	if err != nil || len(names) == 0 {
		t.Fatalf("expected embedded migrations, got %v (err %v)", names, err)
	}
}
