package propagation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"testing"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/star/keplertrack/internal/orbit"
	"github.com/star/keplertrack/internal/passes"
	"github.com/star/keplertrack/internal/tle"
	"github.com/star/keplertrack/internal/transform"
)

// Real ISS and geostationary element sets, plus an Alpha-5 numbered object.
const (
	issLine1 = "1 25544U 98067A   20045.18587073  .00000950  00000-0  25302-4 0  9990"
	issLine2 = "2 25544  51.6465 225.6886 0003880 279.7398 160.7457 15.49165514212792"

	geoLine1 = "1 28884U 05041A   20100.50000000 -.00000250  00000-0  00000+0 0  9995"
	geoLine2 = "2 28884   0.0150 270.0000 0002000  90.0000 180.0000  1.00271173 53007"

	alpha5Line1 = "1 A0001U 22001A   22010.50000000  .00000000  00000-0  00000-0 0  9996"
	alpha5Line2 = "2 A0001  97.5000  10.0000 0010000  45.0000 315.0000 15.20000000  1003"
)

var issEpoch = time.Date(2020, 2, 14, 4, 27, 39, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func mustSet(t testing.TB, name, l1, l2 string) tle.ElementSet {
	t.Helper()
	es, err := tle.ParseLines(name, l1, l2, 2020)
	if err != nil {
		t.Fatalf("ParseLines(%s): %v", name, err)
	}
	return es
}

// rewrite replaces the text starting at 1-based column col and fixes the
// checksum.
func rewrite(line string, col int, text string) string {
	b := []byte(line)
	copy(b[col-1:], text)
	b[68] = byte('0' + tle.Checksum(string(b)))
	return string(b)
}

func testStore(t testing.TB, sets ...tle.ElementSet) *tle.Store {
	t.Helper()
	store := tle.NewStore()
	store.Set(tle.NewCatalog("test", time.Date(2020, 2, 14, 0, 0, 0, 0, time.UTC), sets))
	return store
}

func testPropagator(t testing.TB) *Propagator {
	t.Helper()
	store := testStore(t,
		mustSet(t, "ISS (ZARYA)", issLine1, issLine2),
		mustSet(t, "GEO TEST", geoLine1, geoLine2),
	)
	return NewPropagator(store, Config{Workers: 2}, testLogger())
}

func TestPropagatorNoCatalog(t *testing.T) {
	prop := NewPropagator(tle.NewStore(), Config{Workers: 2}, testLogger())

	if _, err := prop.Snapshot(context.Background(), time.Now()); !errors.Is(err, tle.ErrNoCatalog) {
		t.Fatalf("Snapshot error = %v, want ErrNoCatalog", err)
	}
	if _, err := prop.Position(25544, time.Now()); !errors.Is(err, tle.ErrNoCatalog) {
		t.Fatalf("Position error = %v, want ErrNoCatalog", err)
	}
}

func TestPropagatorUnknownObject(t *testing.T) {
	prop := testPropagator(t)

	_, err := prop.Position(99999, issEpoch)
	if !errors.Is(err, tle.ErrUnknownObject) {
		t.Fatalf("error = %v, want ErrUnknownObject", err)
	}
	_, err = prop.Passes(context.Background(), []int{25544, 99999}, transform.NewObserver(0, 0, 0), issEpoch, issEpoch.Add(time.Hour), passes.DefaultOptions())
	if !errors.Is(err, tle.ErrUnknownObject) {
		t.Fatalf("Passes error = %v, want ErrUnknownObject", err)
	}
}

func TestPropagatorPosition(t *testing.T) {
	prop := testPropagator(t)

	pos, err := prop.Position(25544, issEpoch)
	if err != nil {
		t.Fatalf("Position: %v", err)
	}
	if pos.Name != "ISS (ZARYA)" {
		t.Errorf("name = %q", pos.Name)
	}

	// ISS altitude ~410-430 km.
	if pos.Geodetic.Altitude < 380 || pos.Geodetic.Altitude > 460 {
		t.Errorf("altitude = %.1f km, want ~420 km", pos.Geodetic.Altitude)
	}
	if math.Abs(pos.Geodetic.Latitude) > 51.7 {
		t.Errorf("latitude %.2f exceeds inclination", pos.Geodetic.Latitude)
	}

	// ECI and ECEF differ by a rotation about Z only.
	eci := r3.Vec{X: pos.PositionECI[0], Y: pos.PositionECI[1], Z: pos.PositionECI[2]}
	ecef := r3.Vec{X: pos.PositionECEF[0], Y: pos.PositionECEF[1], Z: pos.PositionECEF[2]}
	if math.Abs(r3.Norm(eci)-r3.Norm(ecef)) > 1e-6 {
		t.Errorf("|ECI| = %.6f, |ECEF| = %.6f", r3.Norm(eci), r3.Norm(ecef))
	}
	if math.Abs(eci.Z-ecef.Z) > 1e-6 {
		t.Errorf("Z component changed: %.6f vs %.6f", eci.Z, ecef.Z)
	}
	if !pos.Anomalies.Converged {
		t.Error("expected converged solve")
	}
}

func TestPropagatorSnapshot(t *testing.T) {
	prop := testPropagator(t)

	snap, err := prop.Snapshot(context.Background(), issEpoch)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snap.Objects) != 2 {
		t.Fatalf("got %d objects, want 2", len(snap.Objects))
	}
	if snap.Failed != 0 || snap.Unconverged != 0 {
		t.Errorf("failed=%d unconverged=%d, want 0", snap.Failed, snap.Unconverged)
	}

	// Catalog order is preserved.
	if snap.Objects[0].CatalogNumber != 25544 || snap.Objects[1].CatalogNumber != 28884 {
		t.Errorf("order = %d, %d", snap.Objects[0].CatalogNumber, snap.Objects[1].CatalogNumber)
	}
	for _, p := range snap.Objects {
		ecef := r3.Vec{X: p.PositionECEF[0], Y: p.PositionECEF[1], Z: p.PositionECEF[2]}
		if !transform.ValidateECEF(ecef) {
			t.Errorf("catalog number %d: ECEF position failed validation: %v", p.CatalogNumber, p.PositionECEF)
		}
		if !p.Time.Equal(issEpoch) {
			t.Errorf("catalog number %d: time = %v", p.CatalogNumber, p.Time)
		}
	}

	// Snapshot and single-object Position agree.
	single, err := prop.Position(28884, issEpoch)
	if err != nil {
		t.Fatal(err)
	}
	if single.PositionECEF != snap.Objects[1].PositionECEF {
		t.Errorf("snapshot %v != position %v", snap.Objects[1].PositionECEF, single.PositionECEF)
	}
}

func TestPropagatorSnapshotSkipsInvalidModels(t *testing.T) {
	// 18 rev/day puts the semimajor axis below the surface.
	decayed := mustSet(t, "DECAYED",
		rewrite(issLine1, 3, "11111"),
		rewrite(rewrite(issLine2, 3, "11111"), 53, "18.00000000"))

	store := testStore(t, decayed, mustSet(t, "GEO TEST", geoLine1, geoLine2))
	prop := NewPropagator(store, Config{Workers: 1}, testLogger())

	snap, err := prop.Snapshot(context.Background(), issEpoch)
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Objects) != 1 || snap.Objects[0].CatalogNumber != 28884 {
		t.Fatalf("got %d objects, want only 28884", len(snap.Objects))
	}
	if snap.Failed != 1 {
		t.Errorf("failed = %d, want 1", snap.Failed)
	}

	_, err = prop.Position(11111, issEpoch)
	if !errors.Is(err, ErrInvalidElements) || !errors.Is(err, orbit.ErrSubsurfaceOrbit) {
		t.Errorf("error = %v, want ErrInvalidElements wrapping ErrSubsurfaceOrbit", err)
	}
}

func TestPropagatorSnapshotCancelled(t *testing.T) {
	prop := testPropagator(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := prop.Snapshot(ctx, issEpoch); !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

func TestPropagatorCacheRebuild(t *testing.T) {
	store := testStore(t, mustSet(t, "ISS (ZARYA)", issLine1, issLine2))
	prop := NewPropagator(store, Config{Workers: 2}, testLogger())

	first, err := prop.models()
	if err != nil {
		t.Fatal(err)
	}
	again, _ := prop.models()
	if first != again {
		t.Error("cache rebuilt without a catalog change")
	}

	store.Set(tle.NewCatalog("test", time.Date(2020, 2, 15, 0, 0, 0, 0, time.UTC), []tle.ElementSet{
		mustSet(t, "GEO TEST", geoLine1, geoLine2),
	}))
	second, err := prop.models()
	if err != nil {
		t.Fatal(err)
	}
	if second == first {
		t.Fatal("cache not rebuilt after catalog change")
	}
	if _, err := prop.Position(25544, issEpoch); !errors.Is(err, tle.ErrUnknownObject) {
		t.Errorf("stale model served after rebuild: %v", err)
	}
}

func TestPropagatorGroundTrack(t *testing.T) {
	prop := testPropagator(t)
	step := time.Minute

	track, err := prop.GroundTrack(context.Background(), 25544, issEpoch, step, 93)
	if err != nil {
		t.Fatalf("GroundTrack: %v", err)
	}
	if len(track) != 93 {
		t.Fatalf("got %d points, want 93", len(track))
	}
	for i, p := range track {
		want := issEpoch.Add(time.Duration(i) * step)
		if !p.Time.Equal(want) {
			t.Fatalf("point %d: time = %v, want %v", i, p.Time, want)
		}
	}

	// One period later the inertial position repeats.
	_, model, err := prop.Model(25544)
	if err != nil {
		t.Fatal(err)
	}
	a, _ := prop.Position(25544, issEpoch)
	b, _ := prop.Position(25544, issEpoch.Add(model.Period()))
	sep := r3.Norm(r3.Sub(
		r3.Vec{X: a.PositionECI[0], Y: a.PositionECI[1], Z: a.PositionECI[2]},
		r3.Vec{X: b.PositionECI[0], Y: b.PositionECI[1], Z: b.PositionECI[2]},
	))
	if sep > 1 {
		t.Errorf("ECI separation after one period = %.3f km", sep)
	}
}

func TestPropagatorGroundTrackInvalid(t *testing.T) {
	prop := testPropagator(t)
	tests := []struct {
		name  string
		step  time.Duration
		count int
	}{
		{"zero step", 0, 10},
		{"negative step", -time.Second, 10},
		{"zero count", time.Second, 0},
		{"over limit", time.Second, prop.Config().MaxTrackPoints + 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := prop.GroundTrack(context.Background(), 25544, issEpoch, tt.step, tt.count)
			if !errors.Is(err, ErrInvalidTrack) {
				t.Errorf("error = %v, want ErrInvalidTrack", err)
			}
		})
	}
}

func TestPropagatorLook(t *testing.T) {
	prop := testPropagator(t)

	pos, err := prop.Position(28884, issEpoch)
	if err != nil {
		t.Fatal(err)
	}
	obs := transform.NewObserver(0, pos.Geodetic.Longitude, 0)

	la, err := prop.Look(28884, obs, issEpoch, transform.Refraction{})
	if err != nil {
		t.Fatalf("Look: %v", err)
	}
	// Near-zero inclination: the GEO object sits close to the zenith of the
	// sub-satellite point on the equator.
	if la.Elevation < 89 {
		t.Errorf("elevation = %.3f, want ~90", la.Elevation)
	}
	if math.Abs(la.Range-pos.Geodetic.Altitude) > 10 {
		t.Errorf("range = %.1f, altitude = %.1f", la.Range, pos.Geodetic.Altitude)
	}

	refracted, err := prop.Look(28884, obs, issEpoch, transform.DefaultRefraction())
	if err != nil {
		t.Fatal(err)
	}
	// Above the 15° threshold refraction leaves the elevation alone.
	if refracted.Elevation != la.Elevation {
		t.Errorf("refracted elevation %.6f != %.6f", refracted.Elevation, la.Elevation)
	}
}

func TestPropagatorPasses(t *testing.T) {
	prop := testPropagator(t)
	nyc := transform.NewObserver(40.7128, -74.006, 10)
	start := time.Date(2020, 2, 14, 12, 0, 0, 0, time.UTC)

	results, err := prop.Passes(context.Background(), []int{25544}, nyc, start, start.Add(24*time.Hour), passes.DefaultOptions())
	if err != nil {
		t.Fatalf("Passes: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	r := results[0]
	if r.Error != "" {
		t.Fatalf("unexpected error: %s", r.Error)
	}
	if r.ID != 25544 || r.Name != "ISS (ZARYA)" {
		t.Errorf("result identity = %d %q", r.ID, r.Name)
	}
	if len(r.Passes) == 0 {
		t.Fatal("expected ISS passes over NYC in 24h")
	}
	for i, w := range r.Passes {
		if !w.Acquisition.Time.Before(w.Loss.Time) {
			t.Errorf("pass %d: AOS %v not before LOS %v", i, w.Acquisition.Time, w.Loss.Time)
		}
	}
}

func TestPropagatorFidelity(t *testing.T) {
	prop := testPropagator(t)

	atEpoch, err := prop.Fidelity(25544, issEpoch)
	if err != nil {
		t.Fatalf("Fidelity: %v", err)
	}
	if atEpoch.Stale {
		t.Error("fresh elements reported stale")
	}
	if atEpoch.SeparationKm > 50 {
		t.Errorf("separation at epoch = %.1f km, want < 50", atEpoch.SeparationKm)
	}
	if math.Abs(atEpoch.AgeDays) > 1.0/86400 {
		t.Errorf("age at epoch = %g days", atEpoch.AgeDays)
	}

	later, err := prop.Fidelity(25544, issEpoch.Add(30*24*time.Hour))
	if err != nil {
		t.Fatalf("Fidelity: %v", err)
	}
	if !later.Stale {
		t.Error("30-day-old elements not reported stale")
	}
	if later.AgeDays < 29.9 || later.AgeDays > 30.1 {
		t.Errorf("age = %.3f days, want 30", later.AgeDays)
	}
}

func TestFidelityAlpha5Unsupported(t *testing.T) {
	store := testStore(t, mustSet(t, "ALPHA5", alpha5Line1, alpha5Line2))
	prop := NewPropagator(store, Config{}, testLogger())

	if _, err := prop.Position(100001, time.Date(2022, 1, 10, 12, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("Position: %v", err)
	}
	_, err := prop.Fidelity(100001, time.Date(2022, 1, 10, 12, 0, 0, 0, time.UTC))
	if !errors.Is(err, ErrSGP4Unsupported) {
		t.Fatalf("error = %v, want ErrSGP4Unsupported", err)
	}
}

// The element parser accepts these; go-satellite's column reads would exit
// the process on them.
func TestFidelityLenientColumnsUnsupported(t *testing.T) {
	tests := []struct {
		name  string
		line1 string
	}{
		{"blank B*", rewrite(issLine1, 54, "        ")},
		{"blank second derivative", rewrite(issLine1, 45, "        ")},
		{"space-padded epoch year", rewrite(issLine1, 19, " 0")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			es := mustSet(t, "ISS (ZARYA)", tt.line1, issLine2)

			if _, err := NewSGP4Propagator(es); !errors.Is(err, ErrSGP4Unsupported) {
				t.Fatalf("NewSGP4Propagator error = %v, want ErrSGP4Unsupported", err)
			}

			prop := NewPropagator(testStore(t, es), Config{}, testLogger())
			if _, err := prop.Fidelity(25544, es.Epoch()); !errors.Is(err, ErrSGP4Unsupported) {
				t.Fatalf("Fidelity error = %v, want ErrSGP4Unsupported", err)
			}
		})
	}
}

func TestCheckSGP4LinesAcceptsCatalogFixtures(t *testing.T) {
	for _, lines := range [][2]string{{issLine1, issLine2}, {geoLine1, geoLine2}} {
		if err := checkSGP4Lines(lines[0], lines[1]); err != nil {
			t.Errorf("checkSGP4Lines(%q): %v", lines[0][:7], err)
		}
	}
	if err := checkSGP4Lines(alpha5Line1, alpha5Line2); !errors.Is(err, ErrSGP4Unsupported) {
		t.Errorf("Alpha-5 error = %v, want ErrSGP4Unsupported", err)
	}
}

func TestIsStale(t *testing.T) {
	tests := []struct {
		age  float64
		want bool
	}{
		{0, false},
		{9.9, false},
		{10.1, true},
		{-10.1, true},
		{-3, false},
	}
	for _, tt := range tests {
		if got := IsStale(tt.age, DefaultStaleAfter); got != tt.want {
			t.Errorf("IsStale(%g) = %v, want %v", tt.age, got, tt.want)
		}
	}
}

func TestWorkerPoolUnconverged(t *testing.T) {
	es := mustSet(t, "ISS (ZARYA)", issLine1, issLine2)
	m, err := orbit.NewWithSolver(es, orbit.SolverConfig{Tolerance: 1e-15, MaxIterations: 1})
	if err != nil {
		t.Fatal(err)
	}
	obj := &object{set: es, model: m}

	pool := NewWorkerPool(2, testLogger())
	// Mean anomalies away from 0 and π take more than one Newton step.
	jobs := []propagateJob{
		{index: 0, obj: obj, targetTime: issEpoch.Add(13 * time.Minute)},
		{index: 1, obj: obj, targetTime: issEpoch.Add(31 * time.Minute)},
	}
	res := pool.PropagateBatch(context.Background(), jobs)
	if res.unconverged != 2 {
		t.Errorf("unconverged = %d, want 2", res.unconverged)
	}
	if res.failed != 0 {
		t.Fatalf("failed = %d, want 0", res.failed)
	}
	if len(res.positions) != 2 {
		t.Fatalf("got %d positions, want 2", len(res.positions))
	}
	for _, p := range res.positions {
		if p.Anomalies.Converged {
			continue
		}
		if p.Anomalies.Iterations != 1 {
			t.Errorf("iterations = %d, want 1", p.Anomalies.Iterations)
		}
	}
}

// BenchmarkSnapshot1000 benchmarks propagating 1000 objects.
func BenchmarkSnapshot1000(b *testing.B) {
	sets := make([]tle.ElementSet, 1000)
	for i := range sets {
		num := fmt.Sprintf("%05d", 30000+i)
		sets[i] = mustSet(b, "TEST", rewrite(issLine1, 3, num), rewrite(issLine2, 3, num))
	}
	prop := NewPropagator(testStore(b, sets...), Config{Workers: 4}, testLogger())
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := prop.Snapshot(ctx, issEpoch); err != nil {
			b.Fatal(err)
		}
	}
}
