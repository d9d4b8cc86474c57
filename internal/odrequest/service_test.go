package odrequest

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"odportal/internal/attachments"
	"odportal/internal/auth"
	"odportal/internal/identity"
	"odportal/internal/queue"
	"odportal/internal/store"
	"odportal/internal/store/storetest"
)

var (
	asha   = auth.Principal{AccountID: "acct-asha", Role: auth.RoleStudent, ProfileID: "stu-asha"}
	bala   = auth.Principal{AccountID: "acct-bala", Role: auth.RoleStudent, ProfileID: "stu-bala"}
	ravi   = auth.Principal{AccountID: "acct-ravi", Role: auth.RoleTeacher, ProfileID: "tch-ravi"}
	nobody = auth.Principal{AccountID: "acct-new"}
)

type fixture struct {
	db      *store.DB
	repo    *Repository
	storage *attachments.Memory
	svc     *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := storetest.New(t)
	ids := identity.NewRepository(db.Client)
	ctx := context.Background()
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, p := range []auth.Principal{asha, bala, ravi, nobody} {
		storetest.SeedAccount(t, db, p.AccountID, p.AccountID+"@college.edu")
	}
	for _, st := range []identity.Student{
		{ID: asha.ProfileID, AccountID: asha.AccountID, Name: "Asha", Email: "asha@college.edu", RegisterNumber: "21CS001", Department: "CSE", Section: "A", CreatedAt: created},
		{ID: bala.ProfileID, AccountID: bala.AccountID, Name: "Bala", Email: "bala@college.edu", RegisterNumber: "21EC002", Department: "ECE", Section: "B", CreatedAt: created},
	} {
		if err := ids.InsertStudent(ctx, db.Client, st); err != nil {
			t.Fatalf("seed student: %v", err)
		}
	}
	if err := ids.InsertTeacher(ctx, db.Client, identity.Teacher{ID: ravi.ProfileID, AccountID: ravi.AccountID, Name: "Ravi", CreatedAt: created}); err != nil {
		t.Fatalf("seed teacher: %v", err)
	}

	repo := NewRepository(db.Client)
	storage := attachments.NewMemory()
	svc := NewService(repo, storage, attachments.NewOrphans(db.Client), nil, zap.NewNop())
	svc.now = steppingClock(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))
	return &fixture{db: db, repo: repo, storage: storage, svc: svc}
}

// steppingClock advances one minute per call so created_at values are distinct.
func steppingClock(start time.Time) func() time.Time {
	t := start
	return func() time.Time {
		t = t.Add(time.Minute)
		return t
	}
}

func input(title string) CreateInput {
	return CreateInput{Title: title, Type: TypeEvent, EventName: "Hackathon", ODDate: "2024-06-10", Timings: "9:00-16:00"}
}

func (f *fixture) countRequests(t *testing.T) int {
	t.Helper()
	var n int
	if err := f.db.Client.QueryRow(`SELECT COUNT(*) FROM od_requests`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestCreateAndListOrdering(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var created []Request
	for _, title := range []string{"first", "second", "third"} {
		req, err := f.svc.Create(ctx, asha, input(title), nil)
		if err != nil {
			t.Fatalf("create %s: %v", title, err)
		}
		if req.Status != StatusPending || req.ApprovedBy != nil || req.ApprovedAt != nil {
			t.Fatalf("new request not pending: %+v", req)
		}
		created = append(created, req)
	}
	if _, err := f.svc.Create(ctx, bala, input("other"), nil); err != nil {
		t.Fatalf("create for bala: %v", err)
	}

	mine, err := f.svc.ListMine(ctx, asha, 0)
	if err != nil {
		t.Fatalf("list mine: %v", err)
	}
	if len(mine) != 3 {
		t.Fatalf("expected 3 own requests, got %d", len(mine))
	}
	for i := 1; i < len(mine); i++ {
		if mine[i].CreatedAt.After(mine[i-1].CreatedAt) {
			t.Fatalf("my requests not newest first: %v then %v", mine[i-1].CreatedAt, mine[i].CreatedAt)
		}
	}
	if mine[0].ID != created[2].ID {
		t.Fatalf("expected newest request first, got %q", mine[0].Title)
	}

	pending, err := f.svc.ListPending(ctx, ravi)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 4 {
		t.Fatalf("expected 4 pending, got %d", len(pending))
	}
	for i := 1; i < len(pending); i++ {
		if pending[i].CreatedAt.Before(pending[i-1].CreatedAt) {
			t.Fatalf("pending not oldest first: %v then %v", pending[i-1].CreatedAt, pending[i].CreatedAt)
		}
	}
	if pending[0].Student == nil || pending[0].Student.RegisterNumber != "21CS001" {
		t.Fatalf("pending row not joined with student: %+v", pending[0].Student)
	}

	if _, err := f.svc.ListPending(ctx, asha); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("student listing pending: expected ErrForbidden, got %v", err)
	}
	if _, err := f.svc.ListMine(ctx, nobody, 0); !errors.Is(err, auth.ErrNoProfile) {
		t.Fatalf("role-less listing: expected ErrNoProfile, got %v", err)
	}
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bad := []CreateInput{
		{Type: TypeDaily, EventName: "x", ODDate: "2024-06-10", Timings: "all day"},
		{Title: "t", Type: "weekly", EventName: "x", ODDate: "2024-06-10", Timings: "all day"},
		{Title: "t", Type: TypeDaily, EventName: "x", ODDate: "10/06/2024", Timings: "all day"},
		{Title: "t", Type: TypeDaily, EventName: "   ", ODDate: "2024-06-10", Timings: "all day"},
		{Title: "t", Type: TypeDaily, EventName: "x", ODDate: "2024-06-10"},
	}
	for _, in := range bad {
		att := &Attachment{Filename: "proof.pdf", Body: strings.NewReader("pdf")}
		if _, err := f.svc.Create(ctx, asha, in, att); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("expected ErrInvalidInput for %+v, got %v", in, err)
		}
	}
	if _, err := f.svc.Create(ctx, ravi, input("teacher"), nil); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("teacher create: expected ErrForbidden, got %v", err)
	}
	if n := f.countRequests(t); n != 0 {
		t.Fatalf("expected no rows, got %d", n)
	}
}

func TestCreateWithAttachment(t *testing.T) {
	f := newFixture(t)
	in := input("with proof")
	in.Period = " 3rd and 4th "
	req, err := f.svc.Create(context.Background(), asha, in, &Attachment{Filename: "Proof.PDF", ContentType: "application/pdf", Body: strings.NewReader("pdf")})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.HasPrefix(req.AttachmentKey, asha.AccountID+"/") || !strings.HasSuffix(req.AttachmentKey, ".pdf") {
		t.Fatalf("unexpected key %q", req.AttachmentKey)
	}
	if !f.storage.Has(req.AttachmentKey) {
		t.Fatal("attachment not stored")
	}

	got, err := f.svc.Get(context.Background(), asha, req.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.AttachmentURL == nil || *got.AttachmentURL != "memory://"+req.AttachmentKey {
		t.Fatalf("attachment url not stored: %v", got.AttachmentURL)
	}
	if got.Period == nil || *got.Period != "3rd and 4th" {
		t.Fatalf("period = %v", got.Period)
	}
}

type failingStorage struct {
	*attachments.Memory
	uploadErr error
	deleteErr error
}

func (s *failingStorage) Upload(ctx context.Context, key string, r io.Reader, ct string) (attachments.Object, error) {
	if s.uploadErr != nil {
		return attachments.Object{}, s.uploadErr
	}
	return s.Memory.Upload(ctx, key, r, ct)
}

func (s *failingStorage) Delete(ctx context.Context, key string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	return s.Memory.Delete(ctx, key)
}

func TestCreateUploadFailureWritesNothing(t *testing.T) {
	f := newFixture(t)
	f.svc.storage = &failingStorage{Memory: attachments.NewMemory(), uploadErr: errors.New("network down")}

	_, err := f.svc.Create(context.Background(), asha, input("no upload"), &Attachment{Filename: "a.pdf", Body: strings.NewReader("x")})
	if !errors.Is(err, ErrAttachmentUpload) {
		t.Fatalf("expected ErrAttachmentUpload, got %v", err)
	}
	if n := f.countRequests(t); n != 0 {
		t.Fatalf("expected no od_requests rows, got %d", n)
	}
}

type failingInsert struct {
	*Repository
}

func (failingInsert) Insert(context.Context, Request) error { return errors.New("insert failed") }

func TestCreateInsertFailureDeletesUpload(t *testing.T) {
	f := newFixture(t)
	f.svc.store = failingInsert{f.repo}

	_, err := f.svc.Create(context.Background(), asha, input("lost"), &Attachment{Filename: "a.pdf", Body: strings.NewReader("x")})
	if err == nil {
		t.Fatal("expected insert error")
	}
	var keys int
	_ = f.db.Client.QueryRow(`SELECT COUNT(*) FROM orphaned_attachments`).Scan(&keys)
	if keys != 0 {
		t.Fatalf("cleanup succeeded, nothing should be recorded; got %d", keys)
	}
	if n := f.storage.Len(); n != 0 {
		t.Fatalf("uploaded object not deleted, %d left in storage", n)
	}
}

func TestCreateInsertFailureRecordsOrphan(t *testing.T) {
	f := newFixture(t)
	q := queue.NewInMemory(4)
	f.svc.queue = q
	f.svc.store = failingInsert{f.repo}
	f.svc.storage = &failingStorage{Memory: attachments.NewMemory(), deleteErr: errors.New("delete failed")}

	if _, err := f.svc.Create(context.Background(), asha, input("lost"), &Attachment{Filename: "a.pdf", Body: strings.NewReader("x")}); err == nil {
		t.Fatal("expected insert error")
	}

	var key string
	if err := f.db.Client.QueryRow(`SELECT storage_key FROM orphaned_attachments`).Scan(&key); err != nil {
		t.Fatalf("orphan not recorded: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msgs, _ := q.Consume(ctx)
	select {
	case msg := <-msgs:
		var payload queue.AttachmentOrphaned
		if msg.Type != queue.TypeAttachmentOrphaned || msg.Decode(&payload) != nil || payload.Key != key {
			t.Fatalf("unexpected message %s %s", msg.Type, msg.Body)
		}
	case <-ctx.Done():
		t.Fatal("orphan message not published")
	}
}

func TestApproveAndRejectTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := queue.NewInMemory(8)
	f.svc.queue = q

	first, _ := f.svc.Create(ctx, asha, input("approve me"), nil)
	second, _ := f.svc.Create(ctx, asha, input("reject me"), nil)

	if _, err := f.svc.Approve(ctx, asha, first.ID); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("student approve: expected ErrForbidden, got %v", err)
	}

	approved, err := f.svc.Approve(ctx, ravi, first.ID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != StatusApproved || approved.ApprovedBy == nil || *approved.ApprovedBy != ravi.AccountID || approved.ApprovedAt == nil {
		t.Fatalf("approval not stamped: %+v", approved)
	}
	if _, err := f.svc.Approve(ctx, ravi, first.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("re-approve: expected ErrInvalidTransition, got %v", err)
	}
	if _, err := f.svc.Reject(ctx, ravi, first.ID, "changed my mind"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("reject approved: expected ErrInvalidTransition, got %v", err)
	}

	if _, err := f.svc.Reject(ctx, ravi, second.ID, "   "); !errors.Is(err, ErrReasonRequired) {
		t.Fatalf("blank reason: expected ErrReasonRequired, got %v", err)
	}
	still, _ := f.svc.Get(ctx, ravi, second.ID)
	if still.Status != StatusPending {
		t.Fatalf("blank reason changed status to %s", still.Status)
	}

	rejected, err := f.svc.Reject(ctx, ravi, second.ID, "Insufficient documentation")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != StatusRejected || rejected.RejectionReason == nil || *rejected.RejectionReason != "Insufficient documentation" {
		t.Fatalf("rejection not stored verbatim: %+v", rejected)
	}
	if rejected.ApprovedBy != nil || rejected.ApprovedAt != nil {
		t.Fatalf("reject should not stamp an approver: %+v", rejected)
	}
	if _, err := f.svc.Approve(ctx, ravi, second.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("approve rejected: expected ErrInvalidTransition, got %v", err)
	}
	if got, _ := f.svc.Get(ctx, asha, second.ID); got.Status != StatusRejected {
		t.Fatalf("rejected request reverted to %s", got.Status)
	}

	if _, err := f.svc.Approve(ctx, ravi, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("approve missing: expected ErrNotFound, got %v", err)
	}

	msgCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	msgs, _ := q.Consume(msgCtx)
	for _, want := range []string{"approved", "rejected"} {
		select {
		case msg := <-msgs:
			var d queue.RequestDecided
			if err := msg.Decode(&d); err != nil || d.Status != want || d.TeacherID != ravi.AccountID {
				t.Fatalf("unexpected decision message %s (%v)", msg.Body, err)
			}
		case <-msgCtx.Done():
			t.Fatalf("missing %s message", want)
		}
	}
}

func TestDecisionsDoNotBlockOnFullQueue(t *testing.T) {
	f := newFixture(t)
	f.svc.queue = queue.NewInMemory(1)
	f.svc.publishTimeout = 20 * time.Millisecond

	first, _ := f.svc.Create(context.Background(), asha, input("one"), nil)
	second, _ := f.svc.Create(context.Background(), asha, input("two"), nil)
	if _, err := f.svc.Approve(context.Background(), ravi, first.ID); err != nil {
		t.Fatalf("first approve: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	start := time.Now()
	got, err := f.svc.Approve(ctx, ravi, second.ID)
	if err != nil {
		t.Fatalf("second approve: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("approve waited %s on a full queue", elapsed)
	}
	if got.Status != StatusApproved {
		t.Fatalf("status = %s", got.Status)
	}
}

func TestGetVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req, _ := f.svc.Create(ctx, asha, input("mine"), nil)

	if _, err := f.svc.Get(ctx, bala, req.ID); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("other student: expected ErrForbidden, got %v", err)
	}
	if _, err := f.svc.Get(ctx, ravi, req.ID); err != nil {
		t.Fatalf("teacher get: %v", err)
	}
	if _, err := f.svc.Get(ctx, asha, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := f.svc.Get(ctx, nobody, req.ID); !errors.Is(err, auth.ErrNoProfile) {
		t.Fatalf("expected ErrNoProfile, got %v", err)
	}
}

func TestApprovedListsCarryAttendance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	early := input("early")
	early.ODDate = "2024-06-03"
	late := input("late")
	late.ODDate = "2024-06-20"
	a, _ := f.svc.Create(ctx, asha, early, nil)
	b, _ := f.svc.Create(ctx, asha, late, nil)
	c, _ := f.svc.Create(ctx, bala, input("bala"), nil)
	for _, id := range []string{a.ID, c.ID, b.ID} {
		if _, err := f.svc.Approve(ctx, ravi, id); err != nil {
			t.Fatalf("approve: %v", err)
		}
	}
	if _, err := f.db.Client.Exec(`INSERT INTO attendance (id, od_request_id, date, is_present, created_at) VALUES ($1, $2, $3, $4, $5)`,
		"att-1", a.ID, a.ODDate, true, time.Now().UTC()); err != nil {
		t.Fatalf("seed attendance: %v", err)
	}

	all, err := f.svc.ListApproved(ctx, ravi)
	if err != nil {
		t.Fatalf("list approved: %v", err)
	}
	if len(all) != 3 || all[0].ID != b.ID || all[2].ID != a.ID {
		t.Fatalf("approved list not newest-approved first: %+v", all)
	}
	if len(all[2].Attendance) != 1 || !all[2].Attendance[0].IsPresent || all[2].Student == nil {
		t.Fatalf("attendance or student missing: %+v", all[2])
	}

	mine, err := f.svc.ListApprovedForStudent(ctx, asha)
	if err != nil {
		t.Fatalf("list approved for student: %v", err)
	}
	if len(mine) != 2 || mine[0].ODDate != "2024-06-20" {
		t.Fatalf("expected own approved requests by od_date desc, got %+v", mine)
	}
}

func TestDashboards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var ids []string
	for i := 0; i < 7; i++ {
		req, err := f.svc.Create(ctx, asha, input("r"), nil)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		ids = append(ids, req.ID)
	}
	_, _ = f.svc.Create(ctx, bala, input("b"), nil)
	_, _ = f.svc.Approve(ctx, ravi, ids[0])
	_, _ = f.svc.Reject(ctx, ravi, ids[1], "no")

	td, err := f.svc.TeacherDashboard(ctx, ravi)
	if err != nil {
		t.Fatalf("teacher dashboard: %v", err)
	}
	if td.Total != 8 || td.Pending != 6 || td.Approved != 1 || td.Rejected != 1 || td.Students != 2 {
		t.Fatalf("unexpected teacher counts %+v", td)
	}
	if len(td.RecentPending) != dashboardRecent || td.RecentPending[0].StudentID != bala.AccountID {
		t.Fatalf("expected %d most recent pending, got %+v", dashboardRecent, td.RecentPending)
	}

	sd, err := f.svc.StudentDashboard(ctx, asha)
	if err != nil {
		t.Fatalf("student dashboard: %v", err)
	}
	if sd.Total != 7 || sd.Pending != 5 || len(sd.Recent) != dashboardRecent {
		t.Fatalf("unexpected student dashboard %+v", sd)
	}
	if _, err := f.svc.StudentDashboard(ctx, ravi); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}
