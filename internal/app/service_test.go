package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hylla/perangkat/internal/domain"
)

var testNow = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

func retiredPosition(id string) domain.Position {
	return domain.Position{
		ID: id, Village: "Sukamaju", Title: "Kaur Umum", Version: 1,
		Occupant: domain.Occupant{FullName: "Asep " + id, BirthDate: domain.Date(1950, 1, 1)},
	}
}

func activePosition(id string) domain.Position {
	return domain.Position{
		ID: id, Village: "Sukamaju", Title: "Kaur Keuangan", Version: 1,
		Occupant: domain.Occupant{FullName: "Dewi " + id, BirthDate: domain.Date(1990, 1, 1)},
	}
}

func vacantPosition(id, title string) domain.Position {
	return domain.Position{ID: id, Village: "Sukamaju", Title: title, Version: 1}
}

func newTestService(repo *fakeRepo, checkpoints *fakeCheckpoints, clock *fakeClock, cfg ServiceConfig) *Service {
	return NewService(repo, checkpoints, sequenceIDs(), clock.Now, cfg)
}

func TestRunIfDueArchivesEligiblePositions(t *testing.T) {
	repo := newFakeRepo(retiredPosition("p1"), activePosition("p2"), vacantPosition("p3", "Kasi Pelayanan"))
	checkpoints := newFakeCheckpoints()
	clock := &fakeClock{now: testNow}
	svc := newTestService(repo, checkpoints, clock, ServiceConfig{})

	res, err := svc.RunIfDue(context.Background())
	if err != nil {
		t.Fatalf("RunIfDue() error = %v", err)
	}
	if res.Skipped || res.Processed != 1 {
		t.Fatalf("unexpected result %#v", res)
	}
	if _, ok := repo.state.positions["p1"]; ok {
		t.Fatal("expected p1 removed from active store")
	}
	h, ok := repo.state.history["p1"]
	if !ok {
		t.Fatal("expected p1 in history store")
	}
	if h.Note != domain.DefaultArchiveNote || !h.ArchivedAt.Equal(testNow) {
		t.Fatalf("unexpected history metadata %#v", h)
	}
	if len(repo.state.positions) != 2 {
		t.Fatalf("expected two remaining positions, got %d", len(repo.state.positions))
	}
	if got := checkpoints.values[ScanCheckpointKey]; !got.Equal(testNow) {
		t.Fatalf("unexpected checkpoint %v", got)
	}
	events, err := svc.ListChangeEvents(context.Background(), "p1", 0)
	if err != nil {
		t.Fatalf("ListChangeEvents() error = %v", err)
	}
	if len(events) != 1 || events[0].Operation != domain.ChangeOperationArchive {
		t.Fatalf("unexpected events %#v", events)
	}
}

func TestRunIfDueSecondCallWithinThrottleWritesNothing(t *testing.T) {
	repo := newFakeRepo(retiredPosition("p1"), activePosition("p2"))
	checkpoints := newFakeCheckpoints()
	clock := &fakeClock{now: testNow}
	svc := newTestService(repo, checkpoints, clock, ServiceConfig{})

	if _, err := svc.RunIfDue(context.Background()); err != nil {
		t.Fatalf("RunIfDue() error = %v", err)
	}
	writes, saves, txCalls := repo.writes, checkpoints.saves, repo.txCalls

	clock.now = testNow.Add(23 * time.Hour)
	res, err := svc.RunIfDue(context.Background())
	if err != nil {
		t.Fatalf("RunIfDue() second error = %v", err)
	}
	if !res.Skipped || res.Processed != 0 {
		t.Fatalf("expected skipped result, got %#v", res)
	}
	if !res.LastRunAt.Equal(testNow) {
		t.Fatalf("unexpected last run %v", res.LastRunAt)
	}
	if repo.writes != writes || checkpoints.saves != saves || repo.txCalls != txCalls {
		t.Fatalf("expected no writes, got writes %d->%d saves %d->%d tx %d->%d",
			writes, repo.writes, saves, checkpoints.saves, txCalls, repo.txCalls)
	}
}

func TestRunIfDueAfterThrottleWindowScansAgain(t *testing.T) {
	repo := newFakeRepo(activePosition("p2"))
	checkpoints := newFakeCheckpoints()
	clock := &fakeClock{now: testNow}
	svc := newTestService(repo, checkpoints, clock, ServiceConfig{ScanThrottle: time.Hour})

	res, err := svc.RunIfDue(context.Background())
	if err != nil {
		t.Fatalf("RunIfDue() error = %v", err)
	}
	if res.Skipped || res.Processed != 0 {
		t.Fatalf("unexpected result %#v", res)
	}
	if checkpoints.saves != 1 {
		t.Fatalf("expected checkpoint saved with zero eligible, got %d saves", checkpoints.saves)
	}

	clock.now = testNow.Add(time.Hour)
	res, err = svc.RunIfDue(context.Background())
	if err != nil {
		t.Fatalf("RunIfDue() second error = %v", err)
	}
	if res.Skipped {
		t.Fatal("expected scan after throttle window elapsed")
	}
	if checkpoints.saves != 2 || !checkpoints.values[ScanCheckpointKey].Equal(clock.now) {
		t.Fatalf("unexpected checkpoint state %#v", checkpoints)
	}
}

func TestRunIfDueFailureLeavesCheckpoint(t *testing.T) {
	repo := newFakeRepo(retiredPosition("p1"), retiredPosition("p2"))
	repo.failHistoryAt = 2
	checkpoints := newFakeCheckpoints()
	svc := newTestService(repo, checkpoints, &fakeClock{now: testNow}, ServiceConfig{})

	_, err := svc.RunIfDue(context.Background())
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected errBoom, got %v", err)
	}
	if checkpoints.saves != 0 {
		t.Fatalf("expected checkpoint untouched, got %d saves", checkpoints.saves)
	}
	if len(repo.state.positions) != 2 || len(repo.state.history) != 0 {
		t.Fatalf("expected no partial archival, positions=%d history=%d", len(repo.state.positions), len(repo.state.history))
	}
}

func TestRunIfDueCheckpointReadFailure(t *testing.T) {
	repo := newFakeRepo(retiredPosition("p1"))
	checkpoints := newFakeCheckpoints()
	checkpoints.failGet = errBoom
	svc := newTestService(repo, checkpoints, &fakeClock{now: testNow}, ServiceConfig{})

	if _, err := svc.RunIfDue(context.Background()); !errors.Is(err, errBoom) {
		t.Fatalf("expected errBoom, got %v", err)
	}
	if repo.txCalls != 0 {
		t.Fatalf("expected no transaction, got %d", repo.txCalls)
	}
}

func TestArchiveSplitsIntoChunks(t *testing.T) {
	repo := newFakeRepo(retiredPosition("e1"), retiredPosition("e2"), retiredPosition("e3"), retiredPosition("e4"), retiredPosition("e5"))
	checkpoints := newFakeCheckpoints()
	svc := newTestService(repo, checkpoints, &fakeClock{now: testNow}, ServiceConfig{ArchiveBatchSize: 2})

	res, err := svc.RunScan(context.Background())
	if err != nil {
		t.Fatalf("RunScan() error = %v", err)
	}
	if res.Processed != 5 || repo.txCalls != 3 {
		t.Fatalf("expected 5 archived in 3 chunks, got %d in %d", res.Processed, repo.txCalls)
	}
}

func TestArchiveChunkFailureKeepsCommittedChunks(t *testing.T) {
	repo := newFakeRepo(retiredPosition("e1"), retiredPosition("e2"), retiredPosition("e3"), retiredPosition("e4"), retiredPosition("e5"))
	repo.failHistoryAt = 3
	checkpoints := newFakeCheckpoints()
	svc := newTestService(repo, checkpoints, &fakeClock{now: testNow}, ServiceConfig{ArchiveBatchSize: 2})

	res, err := svc.RunIfDue(context.Background())
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected errBoom, got %v", err)
	}
	if res.Processed != 2 {
		t.Fatalf("expected first chunk committed, got %d", res.Processed)
	}
	if checkpoints.saves != 0 {
		t.Fatal("expected checkpoint untouched after a failed chunk")
	}
	for _, id := range []string{"e3", "e4", "e5"} {
		if _, ok := repo.state.positions[id]; !ok {
			t.Fatalf("expected %s still active", id)
		}
	}
}

func TestArchiveSkipsRecordEditedSinceListing(t *testing.T) {
	repo := newFakeRepo(retiredPosition("p1"))
	svc := newTestService(repo, newFakeCheckpoints(), &fakeClock{now: testNow}, ServiceConfig{})
	stale := repo.state.positions["p1"]

	edited := stale
	edited.Occupant = domain.Occupant{FullName: "Citra", BirthDate: domain.Date(1995, 1, 1)}
	edited.Version = 2
	repo.state.positions["p1"] = edited

	n, err := svc.archivePositions(context.Background(), []domain.Position{stale}, testNow)
	if err != nil {
		t.Fatalf("archivePositions() error = %v", err)
	}
	if n != 0 {
		t.Fatalf("expected edited record left active, archived %d", n)
	}
	if _, ok := repo.state.positions["p1"]; !ok {
		t.Fatal("expected p1 still active")
	}
}

func TestArchiveThenRestoreRoundTrip(t *testing.T) {
	original := retiredPosition("p1")
	original.Occupant.NationalID = "3201"
	original.Occupant.DecreeNumber = "141/12/2010"
	original.Occupant.DecreeDate = domain.Date(2010, 2, 1)
	original.Occupant.InaugurationDate = domain.Date(2010, 3, 1)
	original.Occupant.TenureEndDate = domain.Date(2015, 1, 1)
	repo := newFakeRepo(original)
	clock := &fakeClock{now: testNow}
	svc := newTestService(repo, newFakeCheckpoints(), clock, ServiceConfig{})

	if _, err := svc.RunIfDue(context.Background()); err != nil {
		t.Fatalf("RunIfDue() error = %v", err)
	}
	if got := repo.state.history["p1"].Position.Status; got != domain.StatusRetired {
		t.Fatalf("history status = %q, want %q", got, domain.StatusRetired)
	}
	clock.now = testNow.Add(2 * time.Hour)
	restored, err := svc.RestorePosition(context.Background(), "p1")
	if err != nil {
		t.Fatalf("RestorePosition() error = %v", err)
	}
	if !restored.Occupant.Equal(original.Occupant) {
		t.Fatalf("restored occupant differs: %#v vs %#v", restored.Occupant, original.Occupant)
	}
	if restored.Status != "" {
		t.Fatalf("expected retired status cleared, got %q", restored.Status)
	}
	if _, ok := repo.state.history["p1"]; ok {
		t.Fatal("expected history record removed")
	}
	stored, ok := repo.state.positions["p1"]
	if !ok || !stored.Occupant.Equal(original.Occupant) {
		t.Fatalf("expected p1 active again, got %#v", stored)
	}
}

func TestRestoreNotFound(t *testing.T) {
	svc := newTestService(newFakeRepo(), newFakeCheckpoints(), &fakeClock{now: testNow}, ServiceConfig{})
	if _, err := svc.RestorePosition(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := svc.RestorePosition(context.Background(), "  "); !errors.Is(err, domain.ErrInvalidID) {
		t.Fatalf("expected ErrInvalidID, got %v", err)
	}
}

func TestRestoreIntoOccupiedIDConflicts(t *testing.T) {
	repo := newFakeRepo(activePosition("p1"))
	repo.state.history["p1"] = domain.NewHistoryRecord(retiredPosition("p1"), "", testNow)
	svc := newTestService(repo, newFakeCheckpoints(), &fakeClock{now: testNow}, ServiceConfig{})

	if _, err := svc.RestorePosition(context.Background(), "p1"); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if _, ok := repo.state.history["p1"]; !ok {
		t.Fatal("expected history record kept after conflict")
	}
}

func TestFindReusableSlot(t *testing.T) {
	repo := newFakeRepo(activePosition("p1"))
	svc := newTestService(repo, newFakeCheckpoints(), &fakeClock{now: testNow}, ServiceConfig{})

	if _, ok, err := svc.FindReusableSlot(context.Background(), "Sukamaju", "Kasi Pelayanan"); err != nil || ok {
		t.Fatalf("expected no slot, got ok=%v err=%v", ok, err)
	}
	if _, ok, err := svc.FindReusableSlot(context.Background(), "Sukamaju", "Kaur Keuangan"); err != nil || ok {
		t.Fatalf("expected occupied slot not reusable, got ok=%v err=%v", ok, err)
	}

	repo.state.positions["v2"] = vacantPosition("v2", "Kasi Pelayanan")
	repo.state.positions["v1"] = vacantPosition("v1", "Kasi Pelayanan")
	got, ok, err := svc.FindReusableSlot(context.Background(), "Sukamaju", "Kasi Pelayanan")
	if err != nil || !ok {
		t.Fatalf("expected reusable slot, got ok=%v err=%v", ok, err)
	}
	if got.ID != "v1" {
		t.Fatalf("expected lowest id v1, got %q", got.ID)
	}

	stale := retiredPosition("s1")
	repo.state.positions["s1"] = stale
	got, ok, err = svc.FindReusableSlot(context.Background(), "Sukamaju", "Kaur Umum")
	if err != nil || !ok || got.ID != "s1" {
		t.Fatalf("expected stale slot s1, got %q ok=%v err=%v", got.ID, ok, err)
	}

	if _, _, err := svc.FindReusableSlot(context.Background(), "", "Kaur Umum"); !errors.Is(err, domain.ErrInvalidVillage) {
		t.Fatalf("expected ErrInvalidVillage, got %v", err)
	}
}

func TestReconcileRoutesRows(t *testing.T) {
	repo := newFakeRepo(
		domain.Position{
			ID: "a1", Village: "Sukamaju", Title: "Sekretaris Desa", Version: 1,
			Occupant: domain.Occupant{FullName: "Budi", NationalID: "111", BirthDate: domain.Date(1980, 2, 2), DecreeNumber: "SK-1"},
		},
		vacantPosition("a2", "Kaur Umum"),
	)
	svc := newTestService(repo, newFakeCheckpoints(), &fakeClock{now: testNow}, ServiceConfig{})

	summary, err := svc.Reconcile(context.Background(), ImportRequest{
		Actor: ImportActor{Name: "operator-1"},
		Rows: []domain.ImportRow{
			{Village: "Sukamaju", Title: "Sekretaris Desa", Occupant: domain.Occupant{FullName: "Budi Santoso", NationalID: "111", DecreeDate: domain.Date(2021, 1, 5)}},
			{Village: "Sukamaju", Title: "Kaur Umum", Occupant: domain.Occupant{FullName: "Siti"}},
			{Village: "Sukamaju", Title: "Kasi Pemerintahan", Occupant: domain.Occupant{FullName: "Rina", BirthDate: domain.Date(1960, 5, 1), DecreeDate: domain.Date(2019, 1, 1)}},
			{Village: "SUKAMAJU", Title: "Kasi Pelayanan", Occupant: domain.Occupant{FullName: " rina "}},
			{Village: "Sukamaju", Occupant: domain.Occupant{FullName: "Tanpa Jabatan"}},
		},
	})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if summary.Created != 1 || summary.Updated != 2 || summary.Skipped != 2 {
		t.Fatalf("unexpected summary %#v", summary)
	}
	if len(summary.Duplicates) != 1 || summary.Duplicates[0].Line != 4 || summary.Duplicates[0].ExistingID != "new-1" {
		t.Fatalf("unexpected duplicates %#v", summary.Duplicates)
	}
	if len(summary.Skips) != 2 || summary.Skips[1].Reason != SkipReasonInvalid || summary.Skips[1].Line != 5 {
		t.Fatalf("unexpected skips %#v", summary.Skips)
	}

	a1 := repo.state.positions["a1"]
	if a1.Occupant.FullName != "Budi Santoso" || a1.Occupant.DecreeNumber != "SK-1" || a1.Version != 2 {
		t.Fatalf("expected a1 merged in place, got %#v", a1)
	}
	if a2 := repo.state.positions["a2"]; a2.Occupant.FullName != "Siti" || a2.State() != domain.StateOccupied {
		t.Fatalf("expected vacant slot reused, got %#v", a2)
	}
	created, ok := repo.state.positions["new-1"]
	if !ok {
		t.Fatal("expected new-1 created")
	}
	if got := domain.FormatDate(created.Occupant.TenureEndDate); got != "2025-05-01" {
		t.Fatalf("expected legacy decree tenure end 2025-05-01, got %q", got)
	}
	if len(repo.state.positions) != 3 {
		t.Fatalf("expected 3 positions, got %d", len(repo.state.positions))
	}
	if repo.commits != 1 {
		t.Fatalf("expected one commit, got %d", repo.commits)
	}
}

func TestReconcileNationalIDMatchKeepsIdentifier(t *testing.T) {
	repo := newFakeRepo(domain.Position{
		ID: "a1", Village: "Sukamaju", Title: "Kaur Umum", Version: 1,
		Occupant: domain.Occupant{FullName: "Budi", NationalID: "3201010101800001"},
	})
	svc := newTestService(repo, newFakeCheckpoints(), &fakeClock{now: testNow}, ServiceConfig{})

	summary, err := svc.Reconcile(context.Background(), ImportRequest{Rows: []domain.ImportRow{{
		Village: "Sukamaju", Title: "Kaur Umum",
		Occupant: domain.Occupant{FullName: "Budi", NationalID: "3201010101800001", BirthDate: domain.Date(1980, 1, 1)},
	}}})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if summary.Updated != 1 || summary.Created != 0 {
		t.Fatalf("unexpected summary %#v", summary)
	}
	if len(repo.state.positions) != 1 || domain.FormatDate(repo.state.positions["a1"].Occupant.BirthDate) != "1980-01-01" {
		t.Fatalf("expected a1 updated in place, got %#v", repo.state.positions)
	}
}

func TestReconcileNationalIDMatchKeepsSlot(t *testing.T) {
	repo := newFakeRepo(
		domain.Position{
			ID: "a1", Village: "Sukamaju", Title: "Kaur Umum", Version: 1,
			Occupant: domain.Occupant{FullName: "Budi", NationalID: "777", BirthDate: domain.Date(1980, 2, 2)},
		},
		vacantPosition("a2", "Sekretaris Desa"),
	)
	svc := newTestService(repo, newFakeCheckpoints(), &fakeClock{now: testNow}, ServiceConfig{})

	summary, err := svc.Reconcile(context.Background(), ImportRequest{Rows: []domain.ImportRow{{
		Village: "Sukamaju", Title: "Sekretaris Desa",
		Occupant: domain.Occupant{FullName: "Budi", NationalID: "777", DecreeDate: domain.Date(2015, 3, 1)},
	}}})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if summary.Updated != 1 || summary.Created != 0 {
		t.Fatalf("unexpected summary %#v", summary)
	}
	a1 := repo.state.positions["a1"]
	if a1.Title != "Kaur Umum" || a1.Village != "Sukamaju" {
		t.Fatalf("expected a1 to keep its slot, got %q/%q", a1.Village, a1.Title)
	}
	if got := domain.FormatDate(a1.Occupant.TenureEndDate); got != "2045-02-02" {
		t.Fatalf("expected tenure end from merged fields 2045-02-02, got %q", got)
	}
	if a2 := repo.state.positions["a2"]; !a2.Occupant.IsEmpty() {
		t.Fatalf("expected vacant a2 untouched, got %#v", a2)
	}
}

func TestReconcileDuplicateNameVillageNotWritten(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, newFakeCheckpoints(), &fakeClock{now: testNow}, ServiceConfig{})

	summary, err := svc.Reconcile(context.Background(), ImportRequest{Rows: []domain.ImportRow{
		{Village: "Cibodas", Title: "Kaur Umum", Occupant: domain.Occupant{FullName: "Ujang"}},
		{Village: "cibodas", Title: "Kasi Kesejahteraan", Occupant: domain.Occupant{FullName: "UJANG"}},
	}})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if summary.Created != 1 || summary.Skipped != 1 || len(summary.Duplicates) != 1 {
		t.Fatalf("unexpected summary %#v", summary)
	}
	if summary.Duplicates[0].Name != "UJANG" || summary.Duplicates[0].Village != "cibodas" {
		t.Fatalf("unexpected duplicate %#v", summary.Duplicates[0])
	}
	if len(repo.state.positions) != 1 {
		t.Fatalf("expected one position written, got %d", len(repo.state.positions))
	}
}

func TestReconcileVillageScope(t *testing.T) {
	repo := newFakeRepo(domain.Position{
		ID: "c1", Village: "Cibodas", Title: "Kaur Umum", Version: 1,
		Occupant: domain.Occupant{FullName: "Ujang", NationalID: "999"},
	})
	svc := newTestService(repo, newFakeCheckpoints(), &fakeClock{now: testNow}, ServiceConfig{})

	summary, err := svc.Reconcile(context.Background(), ImportRequest{
		Actor: ImportActor{Name: "admin-sukamaju", VillageScope: "sukamaju"},
		Rows: []domain.ImportRow{
			{Village: "Cibodas", Title: "Kaur Umum", Occupant: domain.Occupant{FullName: "Asep"}},
			{Village: "Sukamaju", Title: "Kaur Umum", Occupant: domain.Occupant{FullName: "Ujang", NationalID: "999"}},
			{Village: "Sukamaju", Title: "Kaur Umum", Occupant: domain.Occupant{FullName: "Dedi"}},
		},
	})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if summary.Skipped != 2 || summary.Created != 1 {
		t.Fatalf("unexpected summary %#v", summary)
	}
	for _, skip := range summary.Skips {
		if skip.Reason != SkipReasonOutOfScope {
			t.Fatalf("expected out_of_scope skips, got %#v", summary.Skips)
		}
	}
	if repo.state.positions["c1"].Village != "Cibodas" {
		t.Fatal("expected out-of-scope record untouched")
	}
}

func TestReconcileSkipsRowWithDecodeError(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, newFakeCheckpoints(), &fakeClock{now: testNow}, ServiceConfig{})

	summary, err := svc.Reconcile(context.Background(), ImportRequest{Rows: []domain.ImportRow{
		{Line: 2, Village: "Sukamaju", Title: "Kaur Umum", Occupant: domain.Occupant{FullName: "Asep"}, Err: domain.ErrInvalidDate},
		{Line: 3, Village: "Sukamaju", Title: "Kaur Keuangan", Occupant: domain.Occupant{FullName: "Dewi"}},
	}})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if summary.Created != 1 || summary.Skipped != 1 {
		t.Fatalf("unexpected summary %#v", summary)
	}
	if len(summary.Skips) != 1 || summary.Skips[0].Line != 2 || summary.Skips[0].Reason != SkipReasonInvalid {
		t.Fatalf("unexpected skips %#v", summary.Skips)
	}
	if len(repo.state.positions) != 1 {
		t.Fatalf("expected only the valid row written, got %#v", repo.state.positions)
	}
}

func TestReconcileStoreFailureAbortsRun(t *testing.T) {
	repo := newFakeRepo(vacantPosition("a2", "Kaur Umum"))
	repo.failEvents = errBoom
	svc := newTestService(repo, newFakeCheckpoints(), &fakeClock{now: testNow}, ServiceConfig{})

	summary, err := svc.Reconcile(context.Background(), ImportRequest{Rows: []domain.ImportRow{
		{Village: "Sukamaju", Title: "Kaur Umum", Occupant: domain.Occupant{FullName: "Siti"}},
		{Village: "Sukamaju", Title: "Kaur Keuangan", Occupant: domain.Occupant{FullName: "Dewi"}},
	}})
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected errBoom, got %v", err)
	}
	if summary.Created != 0 || summary.Updated != 0 {
		t.Fatalf("expected empty summary on failure, got %#v", summary)
	}
	if len(repo.state.positions) != 1 || !repo.state.positions["a2"].Occupant.IsEmpty() {
		t.Fatalf("expected no partial import, got %#v", repo.state.positions)
	}
}

func TestSavePositionReusesSlotUnlessForced(t *testing.T) {
	repo := newFakeRepo(vacantPosition("v1", "Kasi Pelayanan"))
	svc := newTestService(repo, newFakeCheckpoints(), &fakeClock{now: testNow}, ServiceConfig{})

	saved, outcome, err := svc.SavePosition(context.Background(), SavePositionInput{
		Village: "Sukamaju", Title: "Kasi Pelayanan",
		Occupant: domain.Occupant{FullName: "Rahmat", BirthDate: domain.Date(1985, 4, 4)},
	})
	if err != nil {
		t.Fatalf("SavePosition() error = %v", err)
	}
	if outcome != SaveOutcomeReused || saved.ID != "v1" || saved.Version != 2 {
		t.Fatalf("expected v1 reused, got %q %#v", outcome, saved)
	}
	if got := domain.FormatDate(saved.Occupant.TenureEndDate); got != "2045-04-04" {
		t.Fatalf("expected derived tenure end 2045-04-04, got %q", got)
	}

	saved, outcome, err = svc.SavePosition(context.Background(), SavePositionInput{
		Village: "Sukamaju", Title: "Kasi Pelayanan", ForceNew: true,
		Occupant: domain.Occupant{FullName: "Yanto"},
	})
	if err != nil {
		t.Fatalf("SavePosition() force error = %v", err)
	}
	if outcome != SaveOutcomeCreated || saved.ID != "new-1" {
		t.Fatalf("expected new record, got %q %#v", outcome, saved)
	}
}

func TestSavePositionHeadOfVillageNeverArchivedByAge(t *testing.T) {
	repo := newFakeRepo()
	checkpoints := newFakeCheckpoints()
	svc := newTestService(repo, checkpoints, &fakeClock{now: testNow}, ServiceConfig{})

	saved, _, err := svc.SavePosition(context.Background(), SavePositionInput{
		Village: "Sukamaju", Title: "Kepala Desa",
		Occupant: domain.Occupant{FullName: "Lilis", BirthDate: domain.Date(1950, 1, 1)},
	})
	if err != nil {
		t.Fatalf("SavePosition() error = %v", err)
	}
	if saved.Occupant.TenureEndDate != nil {
		t.Fatalf("expected no tenure end for head of village, got %q", domain.FormatDate(saved.Occupant.TenureEndDate))
	}

	res, err := svc.RunIfDue(context.Background())
	if err != nil {
		t.Fatalf("RunIfDue() error = %v", err)
	}
	if res.Skipped || res.Processed != 0 {
		t.Fatalf("expected head of village kept active, got %#v", res)
	}
	if _, ok := repo.state.positions[saved.ID]; !ok {
		t.Fatalf("expected %s still active", saved.ID)
	}
}

func TestReconcileHeadOfVillageKeepsExplicitEndOnly(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, newFakeCheckpoints(), &fakeClock{now: testNow}, ServiceConfig{})

	summary, err := svc.Reconcile(context.Background(), ImportRequest{Rows: []domain.ImportRow{
		{Village: "Sukamaju", Title: "Kepala Desa", Occupant: domain.Occupant{FullName: "Lilis", BirthDate: domain.Date(1950, 1, 1)}},
		{Village: "Cibodas", Title: "Kades", Occupant: domain.Occupant{FullName: "Engkus", BirthDate: domain.Date(1950, 1, 1), TenureEndDate: domain.Date(2027, 2, 1)}},
	}})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if summary.Created != 2 {
		t.Fatalf("unexpected summary %#v", summary)
	}
	if end := repo.state.positions["new-1"].Occupant.TenureEndDate; end != nil {
		t.Fatalf("expected no derived end for head of village, got %q", domain.FormatDate(end))
	}
	if got := domain.FormatDate(repo.state.positions["new-2"].Occupant.TenureEndDate); got != "2027-02-01" {
		t.Fatalf("expected explicit end 2027-02-01, got %q", got)
	}
}

func TestSavePositionStaleVersionConflicts(t *testing.T) {
	p := activePosition("p1")
	p.Version = 3
	repo := newFakeRepo(p)
	svc := newTestService(repo, newFakeCheckpoints(), &fakeClock{now: testNow}, ServiceConfig{})

	_, _, err := svc.SavePosition(context.Background(), SavePositionInput{
		ID: "p1", Version: 2, Village: "Sukamaju", Title: "Kaur Keuangan",
		Occupant: domain.Occupant{FullName: "Dewi"},
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	saved, outcome, err := svc.SavePosition(context.Background(), SavePositionInput{
		ID: "p1", Version: 3, Village: "Sukamaju", Title: "Kaur Keuangan",
		Occupant: domain.Occupant{FullName: "Dewi Lestari"},
	})
	if err != nil {
		t.Fatalf("SavePosition() error = %v", err)
	}
	if outcome != SaveOutcomeUpdated || saved.Version != 4 || repo.state.positions["p1"].Version != 4 {
		t.Fatalf("unexpected save %q %#v", outcome, saved)
	}
}

type recordingObserver struct {
	scans    int
	skipped  int
	restores int
	imports  int
	lookups  int
}

func (o *recordingObserver) ObserveScan(_ int, skipped bool, _ error, _ time.Duration) {
	o.scans++
	if skipped {
		o.skipped++
	}
}
func (o *recordingObserver) ObserveRestore(error, time.Duration) { o.restores++ }
func (o *recordingObserver) ObserveImport(ImportSummary, error, time.Duration) {
	o.imports++
}
func (o *recordingObserver) ObserveSlotLookup(bool) { o.lookups++ }

func TestServiceReportsToObserver(t *testing.T) {
	repo := newFakeRepo(retiredPosition("p1"))
	obs := &recordingObserver{}
	clock := &fakeClock{now: testNow}
	svc := newTestService(repo, newFakeCheckpoints(), clock, ServiceConfig{Observer: obs})

	ctx := context.Background()
	if _, err := svc.RunIfDue(ctx); err != nil {
		t.Fatalf("RunIfDue() error = %v", err)
	}
	if _, err := svc.RunIfDue(ctx); err != nil {
		t.Fatalf("RunIfDue() error = %v", err)
	}
	if _, err := svc.RestorePosition(ctx, "p1"); err != nil {
		t.Fatalf("RestorePosition() error = %v", err)
	}
	if _, err := svc.Reconcile(ctx, ImportRequest{}); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if _, _, err := svc.FindReusableSlot(ctx, "Sukamaju", "Kaur Umum"); err != nil {
		t.Fatalf("FindReusableSlot() error = %v", err)
	}
	if obs.scans != 2 || obs.skipped != 1 || obs.restores != 1 || obs.imports != 1 || obs.lookups != 1 {
		t.Fatalf("unexpected observations %#v", obs)
	}
}
