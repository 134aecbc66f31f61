package core

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/campa/internal/live"
)

var (
	testNow   = time.Date(2024, 6, 1, 12, 0, 0, 0, testLoc)
	testAdmin = Identity{UserID: "admin-1", FullName: "Ana Admin", Role: RoleAdmin}
	testUser  = Identity{UserID: "user-1", FullName: "Juan Pérez", Role: RoleUser}
)

func newTestService(store *fakeStore) (*Service, *recordingPublisher) {
	pub := &recordingPublisher{}
	svc := NewService(store, ServiceOptions{
		Location:  testLoc,
		Publisher: pub,
		Clock:     func() time.Time { return testNow },
		Limiter:   NewImportLimiter(2, 100*time.Millisecond),
	})
	return svc, pub
}

func csvFile(rows ...string) ImportSource {
	body := ExportHeader + "\n" + strings.Join(rows, "\n") + "\n"
	return ImportSource{FileName: "vehiculos.csv", Size: int64(len(body)), Body: strings.NewReader(body)}
}

func TestService_Import(t *testing.T) {
	store := newFakeStore()
	svc, pub := newTestService(store)

	res, summary := svc.Import(context.Background(), testUser, csvFile(
		sampleRow,
		sampleRow,
		`"bad"`,
		`"";"P2";"";"";"";"";"02/01/2024";"";"03/01/2024";"Luis"`,
	))

	success, ok := res.(Success)
	if !ok {
		t.Fatalf("result = %#v, want Success", res)
	}
	if success.Tag != TagImport {
		t.Errorf("Tag = %q, want %q", success.Tag, TagImport)
	}
	if summary.Created != 2 || summary.Skipped != 1 || summary.Errored != 1 {
		t.Errorf("summary = %+v", summary)
	}
	if success.Message != summary.Message() {
		t.Errorf("Message = %q, want summary message", success.Message)
	}
	if store.count() != 2 {
		t.Errorf("stored %d records, want 2", store.count())
	}

	if len(store.history) != 1 {
		t.Fatalf("history entries = %d, want 1", len(store.history))
	}
	h := store.history[0]
	if h.Outcome != OutcomeSuccess || h.Created != 2 || h.UserID != testUser.UserID || len(h.Fingerprint) != 16 {
		t.Errorf("history = %+v", h)
	}

	if got := store.auditActions(); len(got) != 1 || got[0] != ActionImport {
		t.Errorf("audit actions = %v, want [import]", got)
	}
	if count, ok := pub.payload(live.TopicActiveCount); !ok || count != 1 {
		t.Errorf("active_count payload = %v, want 1", count)
	}
}

func TestService_Import_SameFileTwice(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store)
	data := ExportHeader + "\n" + sampleRow + "\n" +
		`"";"P2";"";"";"";"";"02/01/2024";"";"03/01/2024";"Luis"` + "\n"

	_, first := svc.Import(context.Background(), testUser, ImportSource{Body: strings.NewReader(data)})
	_, second := svc.Import(context.Background(), testUser, ImportSource{Body: strings.NewReader(data)})

	if first.Created != 2 {
		t.Errorf("first Created = %d, want 2", first.Created)
	}
	if second.Created != 0 || second.Skipped != 2 {
		t.Errorf("second summary = %+v, want all skipped", second)
	}

	if store.history[0].Fingerprint != store.history[1].Fingerprint {
		t.Error("same file should produce the same fingerprint")
	}
}

func TestService_Import_RunLevelFailures(t *testing.T) {
	tests := []struct {
		name    string
		id      Identity
		body    string
		allErr  error
		wantMsg string
	}{
		{
			name:    "empty file",
			id:      testUser,
			body:    "",
			wantMsg: msgEmptyCSV,
		},
		{
			name:    "missing identity",
			id:      Identity{},
			body:    ExportHeader + "\n" + sampleRow,
			wantMsg: msgNoIdentity,
		},
		{
			name:    "snapshot unavailable",
			id:      testUser,
			body:    ExportHeader + "\n" + sampleRow,
			allErr:  errors.New("connection refused"),
			wantMsg: "connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			store.allErr = tt.allErr
			svc, _ := newTestService(store)

			res, summary := svc.Import(context.Background(), tt.id, ImportSource{Body: strings.NewReader(tt.body)})

			failure, ok := res.(Failure)
			if !ok {
				t.Fatalf("result = %#v, want Failure", res)
			}
			if !strings.Contains(failure.Message, tt.wantMsg) {
				t.Errorf("Message = %q, want it to contain %q", failure.Message, tt.wantMsg)
			}
			if summary.Created != 0 || summary.Skipped != 0 || summary.Errored != 0 {
				t.Errorf("no summary should be synthesised, got %+v", summary)
			}
			if store.count() != 0 {
				t.Errorf("stored %d records, want 0", store.count())
			}
		})
	}
}

func TestService_Import_HeaderOnly(t *testing.T) {
	svc, _ := newTestService(newFakeStore())

	res, summary := svc.Import(context.Background(), testUser, ImportSource{Body: strings.NewReader(ExportHeader + "\n")})
	if _, ok := res.(Success); !ok {
		t.Fatalf("result = %#v, want Success", res)
	}
	if summary.Created != 0 {
		t.Errorf("Created = %d", summary.Created)
	}
}

func TestService_Import_WriteFailureReportsProgress(t *testing.T) {
	store := newFakeStore()
	store.createErr = errors.New("connection reset by peer")
	store.failAfter = 1
	svc, _ := newTestService(store)

	res, summary := svc.Import(context.Background(), testUser, csvFile(
		sampleRow,
		`"";"P2";"";"";"";"";"02/01/2024";"";"-";"-"`,
		`"";"P3";"";"";"";"";"02/01/2024";"";"-";"-"`,
	))

	failure, ok := res.(Failure)
	if !ok {
		t.Fatalf("result = %#v, want Failure", res)
	}
	if !strings.Contains(failure.Message, "1 de 3") {
		t.Errorf("Message = %q, want written count", failure.Message)
	}
	if summary.Created != 1 {
		t.Errorf("Created = %d, want 1 written", summary.Created)
	}
	if store.history[0].Outcome != OutcomeFailure {
		t.Errorf("Outcome = %q", store.history[0].Outcome)
	}
}

func TestService_Import_ReusedIDRejectsOnlyThatRow(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store)

	departed := `"csv-7";"ABC123";"";"";"";"";"01/01/2024 10:00";"Juan";"02/01/2024 10:00";"Luis"`
	valid := `"";"ZZZ999";"";"";"";"";"03/01/2024 09:00";"";"-";"-"`

	res, summary := svc.Import(context.Background(), testUser, csvFile(departed, departed, valid))

	if _, ok := res.(Success); !ok {
		t.Fatalf("result = %#v, want Success", res)
	}
	if summary.Created != 2 || summary.Errored != 1 {
		t.Errorf("summary = %+v, want 2 created and 1 errored", summary)
	}
	if len(summary.ErrorLines) != 1 || summary.ErrorLines[0] != departed {
		t.Errorf("ErrorLines = %q", summary.ErrorLines)
	}
	if store.count() != 2 {
		t.Errorf("stored %d records, want 2", store.count())
	}
	if active, _ := store.IsPlateActive(context.Background(), "ZZZ999"); !active {
		t.Error("row after the rejected one was not written")
	}
}

func TestService_Import_OversizedLineIsRowError(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store)

	huge := `"";"BIG1";"";"";"";"` + strings.Repeat("x", 2<<20) + `";"no es fecha";"";"-";"-"`
	res, summary := svc.Import(context.Background(), testUser, csvFile(sampleRow, huge))

	if _, ok := res.(Success); !ok {
		t.Fatalf("result = %#v, want Success", res)
	}
	if summary.Created != 1 || summary.Errored != 1 {
		t.Errorf("summary = %+v, want 1 created and 1 errored", summary)
	}
	if store.count() != 1 {
		t.Errorf("stored %d records, want 1", store.count())
	}
}

func TestService_Import_CancelBetweenWrites(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store.onCreate = func(n int) {
		if n == 1 {
			cancel()
		}
	}

	res, summary := svc.Import(ctx, testUser, csvFile(
		sampleRow,
		`"";"P2";"";"";"";"";"02/01/2024";"";"-";"-"`,
		`"";"P3";"";"";"";"";"02/01/2024";"";"-";"-"`,
	))

	failure, ok := res.(Failure)
	if !ok {
		t.Fatalf("result = %#v, want Failure", res)
	}
	if !strings.Contains(failure.Message, "cancelada") {
		t.Errorf("Message = %q", failure.Message)
	}
	if store.count() != 1 || summary.Created != 1 {
		t.Errorf("stored %d, Created %d; want 1 each", store.count(), summary.Created)
	}
	if store.history[0].Outcome != OutcomeCancelled {
		t.Errorf("Outcome = %q", store.history[0].Outcome)
	}
}

func TestService_Import_LimiterFull(t *testing.T) {
	svc, _ := newTestService(newFakeStore())
	for i := 0; i < 2; i++ {
		if err := svc.limiter.Acquire(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	defer svc.limiter.Release()
	defer svc.limiter.Release()

	res, _ := svc.Import(context.Background(), testUser, csvFile(sampleRow))
	failure, ok := res.(Failure)
	if !ok || !strings.Contains(failure.Message, "IMP002") {
		t.Errorf("result = %#v, want IMP002 failure", res)
	}
}

func TestService_StartImport(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store)
	ctx := context.Background()

	data := []byte(ExportHeader + "\n" + sampleRow + "\n")
	importID, err := svc.StartImport(ctx, testUser, "async.csv", data)
	if err != nil {
		t.Fatalf("StartImport error = %v", err)
	}

	progress, err := svc.SubscribeImport(importID)
	if err != nil {
		t.Fatalf("SubscribeImport error = %v", err)
	}

	var last ImportProgress
	timeout := time.After(5 * time.Second)
	for done := false; !done; {
		select {
		case p, ok := <-progress:
			if !ok {
				done = true
				break
			}
			last = p
		case <-timeout:
			t.Fatal("progress channel never closed")
		}
	}

	res, summary, err := svc.ImportResult(ctx, importID)
	if err != nil {
		t.Fatalf("ImportResult error = %v", err)
	}
	if _, ok := res.(Success); !ok {
		t.Errorf("result = %#v, want Success", res)
	}
	if summary.Created != 1 {
		t.Errorf("Created = %d", summary.Created)
	}

	status, err := svc.ImportStatus(importID)
	if err != nil {
		t.Fatal(err)
	}
	if status.Phase != PhaseComplete {
		t.Errorf("final phase = %q, want complete", status.Phase)
	}
	if last.ImportID != importID {
		t.Errorf("progress ImportID = %q", last.ImportID)
	}
}

func TestService_UnknownImport(t *testing.T) {
	svc, _ := newTestService(newFakeStore())

	if _, err := svc.SubscribeImport("nope"); !errors.Is(err, ErrImportNotFound) {
		t.Errorf("SubscribeImport err = %v", err)
	}
	if err := svc.CancelImport("nope"); !errors.Is(err, ErrImportNotFound) {
		t.Errorf("CancelImport err = %v", err)
	}
	if _, _, err := svc.ImportResult(context.Background(), "nope"); !errors.Is(err, ErrImportNotFound) {
		t.Errorf("ImportResult err = %v", err)
	}
}

func TestService_RegisterEntry(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store)
	ctx := context.Background()

	v, err := svc.RegisterEntry(ctx, testUser, VehicleRecord{
		Plate: " abc123 ", Brand: "toyota", Model: "corolla", Location: "A1",
	})
	if err != nil {
		t.Fatalf("RegisterEntry error = %v", err)
	}

	if v.ID == "" || v.Plate != "ABC123" || v.Status != StatusActive {
		t.Errorf("record = %+v", v)
	}
	if v.Brand != "TOYOTA" || v.Model != "Corolla" {
		t.Errorf("catalog names = %q %q", v.Brand, v.Model)
	}
	if !v.EntryAt.Equal(testNow) {
		t.Errorf("EntryAt = %v, want now", v.EntryAt)
	}
	if v.RegisteredBy != testUser.UserID || derefOr(v.RegisteredByName, "") != testUser.FullName {
		t.Errorf("registered by %q %v", v.RegisteredBy, v.RegisteredByName)
	}

	brands, _ := svc.ListBrands(ctx)
	if len(brands) != 1 || brands[0].Name != "TOYOTA" {
		t.Errorf("brands = %+v", brands)
	}

	_, err = svc.RegisterEntry(ctx, testUser, VehicleRecord{Plate: "ABC123"})
	if !errors.Is(err, ErrPlateActive) {
		t.Errorf("second entry err = %v, want ErrPlateActive", err)
	}
	if got := FormatUserError(err); !strings.Contains(got, "Vehículo ya se encuentra en campa") {
		t.Errorf("user message = %q", got)
	}
}

func TestService_RegisterEntry_IgnoresClientID(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store)
	ctx := context.Background()

	first, err := svc.RegisterEntry(ctx, testUser, VehicleRecord{Plate: "AAA111"})
	if err != nil {
		t.Fatalf("RegisterEntry error = %v", err)
	}

	second, err := svc.RegisterEntry(ctx, testUser, VehicleRecord{ID: first.ID, Plate: "BBB222"})
	if err != nil {
		t.Fatalf("RegisterEntry with a taken id error = %v", err)
	}
	if second.ID == first.ID || second.ID == "" {
		t.Errorf("ID = %q, want a fresh id (first was %q)", second.ID, first.ID)
	}
}

func TestService_RegisterEntry_Validation(t *testing.T) {
	svc, _ := newTestService(newFakeStore())
	ctx := context.Background()

	if _, err := svc.RegisterEntry(ctx, Identity{}, VehicleRecord{Plate: "X"}); !errors.Is(err, ErrNoIdentity) {
		t.Errorf("no identity err = %v", err)
	}
	if _, err := svc.RegisterEntry(ctx, testUser, VehicleRecord{Plate: "  "}); !errors.Is(err, ErrEmptyPlate) {
		t.Errorf("blank plate err = %v", err)
	}
}

func TestService_MarkDeparted(t *testing.T) {
	entry := testNow.Add(-72 * time.Hour)
	store := newFakeStore(activeRecord("v1", "ABC123", entry))
	svc, _ := newTestService(store)
	ctx := context.Background()

	v, err := svc.MarkDeparted(ctx, testUser, "v1")
	if err != nil {
		t.Fatalf("MarkDeparted error = %v", err)
	}
	if v.Status != StatusDeparted || v.DepartedAt == nil || !v.DepartedAt.Equal(testNow) {
		t.Errorf("record = %+v", v)
	}
	if derefOr(v.DepartedBy, "") != testUser.UserID || derefOr(v.DepartedByName, "") != testUser.FullName {
		t.Errorf("departed by %v %v", v.DepartedBy, v.DepartedByName)
	}

	if _, err := svc.MarkDeparted(ctx, testUser, "v1"); !errors.Is(err, ErrAlreadyDeparted) {
		t.Errorf("second depart err = %v, want ErrAlreadyDeparted", err)
	}
	if _, err := svc.MarkDeparted(ctx, testUser, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing err = %v, want ErrNotFound", err)
	}
}

func TestService_UpdateVehicle(t *testing.T) {
	entry := testNow.Add(-48 * time.Hour)
	departedAt := testNow.Add(-24 * time.Hour)
	store := newFakeStore(
		activeRecord("v1", "AAA111", entry),
		departedRecord("v2", "BBB222", entry, departedAt),
		departedRecord("v3", "AAA111", entry.Add(-time.Hour), departedAt),
	)
	svc, _ := newTestService(store)
	ctx := context.Background()

	t.Run("empty id", func(t *testing.T) {
		_, err := svc.UpdateVehicle(ctx, testUser, VehicleRecord{Plate: "X", Status: StatusActive})
		if !errors.Is(err, ErrEmptyID) {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("departure mismatch", func(t *testing.T) {
		v := activeRecord("v1", "AAA111", entry)
		v.Status = StatusDeparted
		if _, err := svc.UpdateVehicle(ctx, testUser, v); !errors.Is(err, ErrDepartureMismatch) {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("reactivating a plate that is active elsewhere", func(t *testing.T) {
		v := activeRecord("v3", "AAA111", entry.Add(-time.Hour))
		if _, err := svc.UpdateVehicle(ctx, testUser, v); !errors.Is(err, ErrPlateActive) {
			t.Errorf("err = %v, want ErrPlateActive", err)
		}
	})

	t.Run("editing the active record keeps it", func(t *testing.T) {
		v := activeRecord("v1", "aaa111", entry)
		v.Location = "Z9"
		got, err := svc.UpdateVehicle(ctx, testUser, v)
		if err != nil {
			t.Fatalf("err = %v", err)
		}
		if got.Plate != "AAA111" || got.Location != "Z9" {
			t.Errorf("record = %+v", got)
		}
	})
}

func TestService_DeleteVehicles(t *testing.T) {
	entry := testNow.Add(-time.Hour)
	store := newFakeStore(activeRecord("v1", "A", entry), activeRecord("v2", "B", entry), activeRecord("v3", "C", entry))
	svc, _ := newTestService(store)
	ctx := context.Background()

	if _, err := svc.DeleteVehicles(ctx, testUser, []string{"v1"}); !errors.Is(err, ErrForbidden) {
		t.Errorf("non-admin err = %v, want ErrForbidden", err)
	}
	if err := svc.DeleteVehicle(ctx, testUser, "v1"); !errors.Is(err, ErrForbidden) {
		t.Errorf("non-admin single delete err = %v, want ErrForbidden", err)
	}

	n, err := svc.DeleteVehicles(ctx, testAdmin, []string{"v1", "v2"})
	if err != nil || n != 2 {
		t.Fatalf("DeleteVehicles = %d, %v", n, err)
	}
	if err := svc.DeleteVehicle(ctx, testAdmin, "v1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("deleting twice err = %v, want ErrNotFound", err)
	}
	if store.count() != 1 {
		t.Errorf("remaining = %d, want 1", store.count())
	}
}

func TestService_DeleteByPeriod(t *testing.T) {
	jan := func(day int) time.Time { return time.Date(2024, 1, day, 10, 0, 0, 0, testLoc) }
	newStore := func() *fakeStore {
		return newFakeStore(
			activeRecord("v1", "A", jan(1)),
			activeRecord("v2", "B", jan(10)),
			activeRecord("v3", "C", jan(20)),
		)
	}
	ctx := context.Background()

	t.Run("deletes records in range", func(t *testing.T) {
		store := newStore()
		svc, _ := newTestService(store)

		res, err := svc.DeleteByPeriod(ctx, testAdmin, jan(1), jan(10))
		if err != nil {
			t.Fatal(err)
		}
		success, ok := res.(Success)
		if !ok || success.Tag != TagDelete || success.Message != deletedMessage(2) {
			t.Errorf("result = %#v", res)
		}
		if store.count() != 1 {
			t.Errorf("remaining = %d, want 1", store.count())
		}
	})

	t.Run("store failure deletes nothing", func(t *testing.T) {
		store := newStore()
		store.deleteErr = errors.New("deadlock detected")
		svc, _ := newTestService(store)

		res, err := svc.DeleteByPeriod(ctx, testAdmin, jan(1), jan(31))
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := res.(Failure); !ok {
			t.Errorf("result = %#v, want Failure", res)
		}
		if store.count() != 3 {
			t.Errorf("remaining = %d, want 3", store.count())
		}
	})

	t.Run("caller errors", func(t *testing.T) {
		svc, _ := newTestService(newStore())
		if _, err := svc.DeleteByPeriod(ctx, testUser, jan(1), jan(31)); !errors.Is(err, ErrForbidden) {
			t.Errorf("non-admin err = %v", err)
		}
		if _, err := svc.DeleteByPeriod(ctx, testAdmin, jan(31), jan(1)); !errors.Is(err, ErrInvalidPeriod) {
			t.Errorf("reversed period err = %v", err)
		}
	})
}

func TestService_ListActive(t *testing.T) {
	store := newFakeStore(
		activeRecord("v1", "NEW", testNow.Add(-2*time.Hour)),
		activeRecord("v2", "OLD", testNow.Add(-50*time.Hour)),
		departedRecord("v3", "GONE", testNow.Add(-100*time.Hour), testNow),
	)
	svc, _ := newTestService(store)

	active, err := svc.ListActive(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 2 {
		t.Fatalf("len = %d, want 2", len(active))
	}
	if active[0].Plate != "OLD" || active[0].DaysParked != 2 {
		t.Errorf("first = %s parked %d days, want OLD 2", active[0].Plate, active[0].DaysParked)
	}
	if active[1].DaysParked != 0 {
		t.Errorf("second parked %d days, want 0", active[1].DaysParked)
	}
}

func TestService_Search(t *testing.T) {
	store := newFakeStore(
		activeRecord("v1", "ABC123", testNow),
		activeRecord("v2", "XBC999", testNow.Add(-time.Hour)),
		activeRecord("v3", "ZZZ000", testNow.Add(-2*time.Hour)),
	)
	svc, _ := newTestService(store)
	ctx := context.Background()

	got, err := svc.Search(ctx, " bc ")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("Search(bc) = %d records, want 2", len(got))
	}

	all, _ := svc.Search(ctx, "")
	if len(all) != 3 {
		t.Errorf("blank search = %d records, want 3", len(all))
	}
}

func TestService_Export(t *testing.T) {
	jan := time.Date(2024, 1, 5, 10, 0, 0, 0, testLoc)
	store := newFakeStore(activeRecord("v1", "ABC123", jan))
	svc, _ := newTestService(store)
	ctx := context.Background()

	var buf bytes.Buffer
	res := svc.Export(ctx, testUser, jan.AddDate(0, 0, -1), jan.AddDate(0, 0, 1), &buf)
	if s, ok := res.(Success); !ok || s.Tag != TagExport || s.Message != exportedMessage(1) {
		t.Errorf("result = %#v", res)
	}
	if !strings.HasPrefix(buf.String(), ExportHeader+"\n") || !strings.Contains(buf.String(), `"ABC123"`) {
		t.Errorf("export = %q", buf.String())
	}

	buf.Reset()
	res = svc.Export(ctx, testUser, jan.AddDate(1, 0, 0), jan.AddDate(1, 0, 1), &buf)
	if s, ok := res.(Success); !ok || s.Message != msgNothingExport {
		t.Errorf("empty result = %#v", res)
	}
	if buf.Len() != 0 {
		t.Errorf("nothing should be written for an empty period, got %q", buf.String())
	}
}

func TestService_Catalog(t *testing.T) {
	svc, pub := newTestService(newFakeStore())
	ctx := context.Background()

	b1, err := svc.FindOrCreateBrand(ctx, " seat ")
	if err != nil {
		t.Fatal(err)
	}
	b2, _ := svc.FindOrCreateBrand(ctx, "SEAT")
	if b1.ID != b2.ID || b1.Name != "SEAT" {
		t.Errorf("brands %+v %+v", b1, b2)
	}

	m, err := svc.FindOrCreateModel(ctx, "ibiza", b1.ID)
	if err != nil || m.Name != "Ibiza" {
		t.Errorf("model = %+v, %v", m, err)
	}
	if _, ok := pub.payload(live.ModelsTopic(b1.ID)); !ok {
		t.Error("models topic not published")
	}

	if _, err := svc.FindOrCreateBrand(ctx, "  "); !errors.Is(err, ErrEmptyName) {
		t.Errorf("blank brand err = %v", err)
	}
	if err := svc.DeleteBrand(ctx, testUser, b1.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("non-admin delete err = %v", err)
	}
	if err := svc.DeleteBrand(ctx, testAdmin, b1.ID); err != nil {
		t.Errorf("admin delete err = %v", err)
	}
	models, _ := svc.ListModels(ctx, b1.ID)
	if len(models) != 0 {
		t.Errorf("models after brand delete = %+v", models)
	}
}

func TestService_Snapshot(t *testing.T) {
	svc, _ := newTestService(newFakeStore(activeRecord("v1", "A", testNow)))
	ctx := context.Background()

	count, err := svc.Snapshot(ctx, live.TopicActiveCount)
	if err != nil || count != 1 {
		t.Errorf("active_count snapshot = %v, %v", count, err)
	}
	if _, err := svc.Snapshot(ctx, "bogus"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown topic err = %v", err)
	}
}

func TestService_AuditLogRequiresAdmin(t *testing.T) {
	svc, _ := newTestService(newFakeStore())
	ctx := context.Background()

	if _, err := svc.AuditLog(ctx, testUser, 10); !errors.Is(err, ErrForbidden) {
		t.Errorf("non-admin err = %v", err)
	}
	if _, err := svc.AuditLog(ctx, testAdmin, 10); err != nil {
		t.Errorf("admin err = %v", err)
	}
}

func TestRetentionScheduler_RunOnce(t *testing.T) {
	old := testNow.AddDate(0, 0, -40)
	store := newFakeStore(
		departedRecord("old", "A", old, old.Add(time.Hour)),
		departedRecord("recent", "B", testNow.AddDate(0, 0, -2), testNow.AddDate(0, 0, -1)),
		activeRecord("parked", "C", old),
	)
	svc, _ := newTestService(store)
	sink := &memorySink{}

	rs, err := svc.NewRetentionScheduler(sink, RetentionConfig{Days: 30})
	if err != nil {
		t.Fatal(err)
	}

	n, err := rs.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error = %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d, want 1", n)
	}
	if store.count() != 2 {
		t.Errorf("remaining %d, want 2", store.count())
	}
	if len(sink.objects) != 1 {
		t.Fatalf("archived objects = %d, want 1", len(sink.objects))
	}
	for key, body := range sink.objects {
		if !strings.HasPrefix(key, "retention/") || !strings.Contains(body, `"old"`) {
			t.Errorf("archive %s = %q", key, body)
		}
	}
}

func TestRetentionScheduler_ArchiveFailureKeepsRecords(t *testing.T) {
	old := testNow.AddDate(0, 0, -40)
	store := newFakeStore(departedRecord("old", "A", old, old.Add(time.Hour)))
	svc, _ := newTestService(store)

	rs, err := svc.NewRetentionScheduler(&memorySink{err: errors.New("bucket missing")}, RetentionConfig{Days: 30})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := rs.RunOnce(context.Background()); err == nil {
		t.Error("expected archive error")
	}
	if store.count() != 1 {
		t.Errorf("records deleted despite archive failure")
	}
}

func TestNewRetentionScheduler_Config(t *testing.T) {
	svc, _ := newTestService(newFakeStore())

	rs, err := svc.NewRetentionScheduler(nil, RetentionConfig{Days: 0})
	if err != nil || rs != nil {
		t.Errorf("disabled = %v, %v; want nil, nil", rs, err)
	}
	if _, err := svc.NewRetentionScheduler(&memorySink{}, RetentionConfig{Days: 5, Schedule: "not a cron"}); err == nil {
		t.Error("expected invalid schedule error")
	}
	if _, err := svc.NewRetentionScheduler(nil, RetentionConfig{Days: 5}); err == nil {
		t.Error("expected missing sink error")
	}
}

func TestService_ArchiveExport(t *testing.T) {
	jan := time.Date(2024, 1, 5, 10, 0, 0, 0, testLoc)
	svc, _ := newTestService(newFakeStore(activeRecord("v1", "ABC123", jan)))
	sink := &memorySink{}
	ctx := context.Background()

	if _, err := svc.ArchiveExport(ctx, testUser, jan, jan, sink); !errors.Is(err, ErrForbidden) {
		t.Errorf("non-admin err = %v", err)
	}

	res, err := svc.ArchiveExport(ctx, testAdmin, jan.Add(-time.Hour), jan.Add(time.Hour), sink)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := res.(Success); !ok {
		t.Errorf("result = %#v", res)
	}
	if len(sink.objects) != 1 {
		t.Errorf("archived objects = %d, want 1", len(sink.objects))
	}
}
