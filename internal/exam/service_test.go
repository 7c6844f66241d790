package exam

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"examportal/internal/notify"
	"examportal/internal/question"
)

type recordingNotifier struct {
	mu      sync.Mutex
	notices []notify.SubmissionNotice
	err     error
}

func (n *recordingNotifier) NotifySubmission(ctx context.Context, notice notify.SubmissionNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notices)
}

var testClock = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, notifier notify.Notifier) (*Service, *fakeRepository) {
	t.Helper()
	repo := newFakeRepository()
	repo.addQuestion(singleChoiceQuestion(3))
	repo.addQuestion(multiChoiceQuestion(2))
	repo.addQuestion(numericQuestion(4, "42"))

	svc := NewService(repo, ServiceConfig{Notifier: notifier, ElapsedTolerance: 60 * time.Second})
	svc.now = func() time.Time { return testClock }
	return svc, repo
}

func startAt(t *testing.T, svc *Service, at time.Time, sessionID string) *Session {
	t.Helper()
	prev := svc.now
	svc.now = func() time.Time { return at }
	defer func() { svc.now = prev }()

	sess, err := svc.StartSession(context.Background(), StartInput{UserID: 5, TestID: 1, SessionID: sessionID})
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	return sess
}

func idPtr(v int64) *int64 { return &v }
func strPtr(v string) *string { return &v }

func fullBatch() []AnswerInput {
	return []AnswerInput{
		{QuestionID: 1, Kind: question.SingleChoice, OptionID: idPtr(11)},
		{QuestionID: 2, Kind: question.MultiChoice, OptionIDs: []int64{22, 20}},
		{QuestionID: 3, Kind: question.Numeric, Text: strPtr(" 41 ")},
	}
}

func TestStartSessionGeneratesIDWhenMissing(t *testing.T) {
	svc, _ := newTestService(t, nil)
	sess, err := svc.StartSession(context.Background(), StartInput{UserID: 5, TestID: 1})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(sess.ID) != 36 {
		t.Fatalf("expected generated uuid, got %q", sess.ID)
	}
}

func TestStartSessionValidation(t *testing.T) {
	svc, _ := newTestService(t, nil)
	long := make([]byte, maxSessionIDLength+1)
	for i := range long {
		long[i] = 'x'
	}

	tests := []struct {
		name string
		in   StartInput
		want error
	}{
		{name: "missing user", in: StartInput{TestID: 1, SessionID: "s"}, want: ErrInvalidArgument},
		{name: "missing test", in: StartInput{UserID: 5, SessionID: "s"}, want: ErrInvalidArgument},
		{name: "session id too long", in: StartInput{UserID: 5, TestID: 1, SessionID: string(long)}, want: ErrInvalidArgument},
		{name: "unknown test", in: StartInput{UserID: 5, TestID: 99, SessionID: "s"}, want: ErrTestNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.StartSession(context.Background(), tc.in)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestStartSessionResumeRefreshesStartedAt(t *testing.T) {
	svc, repo := newTestService(t, nil)
	startAt(t, svc, testClock.Add(-time.Hour), "s-1")
	sess := startAt(t, svc, testClock.Add(-10*time.Minute), "s-1")

	if !sess.StartedAt.Equal(testClock.Add(-10 * time.Minute)) {
		t.Fatalf("expected refreshed started_at, got %v", sess.StartedAt)
	}
	if len(repo.sessions) != 1 {
		t.Fatalf("resume must not create a second row, got %d", len(repo.sessions))
	}
}

func TestStartSessionRejectsSubmittedAndForeign(t *testing.T) {
	svc, _ := newTestService(t, nil)
	startAt(t, svc, testClock.Add(-time.Minute), "s-1")
	if _, err := svc.SubmitAnswers(context.Background(), SubmitInput{UserID: 5, TestID: 1, SessionID: "s-1", ElapsedSeconds: 60}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	_, err := svc.StartSession(context.Background(), StartInput{UserID: 5, TestID: 1, SessionID: "s-1"})
	if !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
	_, err = svc.StartSession(context.Background(), StartInput{UserID: 6, TestID: 1, SessionID: "s-1"})
	if !errors.Is(err, ErrSessionForbidden) {
		t.Fatalf("expected ErrSessionForbidden, got %v", err)
	}
}

func TestSubmitAnswersGradesAndClosesSession(t *testing.T) {
	svc, repo := newTestService(t, nil)
	startAt(t, svc, testClock.Add(-5*time.Minute), "s-1")

	res, err := svc.SubmitAnswers(context.Background(), SubmitInput{
		UserID: 5, TestID: 1, SessionID: "s-1", ElapsedSeconds: 300, Answers: fullBatch(),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !res.SessionClosed {
		t.Fatalf("expected session_closed=true")
	}

	want := []struct {
		id      int64
		outcome Outcome
		marks   int
	}{
		{1, OutcomeCorrect, 3},
		{2, OutcomeCorrect, 2},
		{3, OutcomeIncorrect, 0},
	}
	if len(res.PerQuestion) != len(want) {
		t.Fatalf("expected %d results, got %d", len(want), len(res.PerQuestion))
	}
	for i, w := range want {
		got := res.PerQuestion[i]
		if got.QuestionID != w.id || got.Outcome != w.outcome || got.Marks != w.marks {
			t.Fatalf("result %d: expected %+v, got %+v", i, w, got)
		}
	}

	stored := repo.answersFor("s-1")
	if len(stored) != 3 {
		t.Fatalf("expected 3 stored answers, got %d", len(stored))
	}
	sess := repo.session("s-1")
	if !sess.Submitted() || *sess.ElapsedSeconds != 300 || *sess.ServerElapsedSeconds != 300 {
		t.Fatalf("unexpected closed session: %+v", sess)
	}
	if sess.ElapsedFlagged {
		t.Fatalf("matching clocks must not be flagged")
	}
}

func TestSubmitAnswersIsAtomicOnStorageFailure(t *testing.T) {
	svc, repo := newTestService(t, nil)
	startAt(t, svc, testClock.Add(-time.Minute), "s-1")
	repo.failUpsertAt = 2

	_, err := svc.SubmitAnswers(context.Background(), SubmitInput{
		UserID: 5, TestID: 1, SessionID: "s-1", ElapsedSeconds: 60, Answers: fullBatch(),
	})
	if !errors.Is(err, ErrStorageFailure) {
		t.Fatalf("expected ErrStorageFailure, got %v", err)
	}
	if n := len(repo.answersFor("s-1")); n != 0 {
		t.Fatalf("expected no persisted answers after rollback, got %d", n)
	}
	if s := repo.session("s-1"); s.Submitted() {
		t.Fatalf("session must remain active after rollback")
	}

	repo.failUpsertAt = 0
	if _, err := svc.SubmitAnswers(context.Background(), SubmitInput{
		UserID: 5, TestID: 1, SessionID: "s-1", ElapsedSeconds: 60, Answers: fullBatch(),
	}); err != nil {
		t.Fatalf("retry after rollback: %v", err)
	}
	if n := len(repo.answersFor("s-1")); n != 3 {
		t.Fatalf("expected 3 answers after retry, got %d", n)
	}
}

func TestSubmitAnswersCloseFailureRollsBackAnswers(t *testing.T) {
	svc, repo := newTestService(t, nil)
	startAt(t, svc, testClock.Add(-time.Minute), "s-1")
	repo.failClose = true

	_, err := svc.SubmitAnswers(context.Background(), SubmitInput{
		UserID: 5, TestID: 1, SessionID: "s-1", ElapsedSeconds: 60, Answers: fullBatch(),
	})
	if !errors.Is(err, ErrStorageFailure) {
		t.Fatalf("expected ErrStorageFailure, got %v", err)
	}
	if n := len(repo.answersFor("s-1")); n != 0 {
		t.Fatalf("answers must not outlive a failed close, got %d", n)
	}
}

func TestSubmitAnswersTwiceIsRejectedAndStateUnchanged(t *testing.T) {
	svc, repo := newTestService(t, nil)
	startAt(t, svc, testClock.Add(-time.Minute), "s-1")
	in := SubmitInput{UserID: 5, TestID: 1, SessionID: "s-1", ElapsedSeconds: 60, Answers: fullBatch()}

	if _, err := svc.SubmitAnswers(context.Background(), in); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	before := repo.answersFor("s-1")
	sessBefore := repo.session("s-1")

	_, err := svc.SubmitAnswers(context.Background(), in)
	if !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed on retry, got %v", err)
	}
	if !reflect.DeepEqual(before, repo.answersFor("s-1")) {
		t.Fatalf("stored answers changed after rejected retry")
	}
	if !reflect.DeepEqual(sessBefore, repo.session("s-1")) {
		t.Fatalf("session changed after rejected retry")
	}
}

func TestSubmitAnswersSkipsUnresolvableQuestions(t *testing.T) {
	svc, repo := newTestService(t, nil)
	repo.addQuestion(&question.Question{ID: 50, TestID: 2, Type: question.Numeric, Marks: 1, CanonicalAnswer: "1"})
	repo.addQuestion(&question.Question{ID: 60, TestID: 1, Type: question.SingleChoice, Marks: 1})
	startAt(t, svc, testClock.Add(-time.Minute), "s-1")

	res, err := svc.SubmitAnswers(context.Background(), SubmitInput{
		UserID: 5, TestID: 1, SessionID: "s-1", ElapsedSeconds: 60,
		Answers: []AnswerInput{
			{QuestionID: 404, Kind: question.Numeric, Text: strPtr("x")},
			{QuestionID: 1, Kind: question.SingleChoice, OptionID: idPtr(10)},
			{QuestionID: 50, Kind: question.Numeric, Text: strPtr("1")},
			{QuestionID: 60, Kind: question.SingleChoice, OptionID: idPtr(1)},
		},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	wantSkipped := []SkippedAnswer{
		{QuestionID: 404, Reason: SkipUnknownQuestion},
		{QuestionID: 50, Reason: SkipOtherTest},
		{QuestionID: 60, Reason: SkipCatalogInvalid},
	}
	if !reflect.DeepEqual(res.Skipped, wantSkipped) {
		t.Fatalf("expected skipped %+v, got %+v", wantSkipped, res.Skipped)
	}
	if len(res.PerQuestion) != 1 || res.PerQuestion[0].Marks != -1 {
		t.Fatalf("expected one graded wrong answer with -1, got %+v", res.PerQuestion)
	}
	if s := repo.session("s-1"); !s.Submitted() {
		t.Fatalf("skips must not prevent closing the session")
	}
}

func TestSubmitAnswersDuplicateQuestionLastWins(t *testing.T) {
	svc, repo := newTestService(t, nil)
	startAt(t, svc, testClock.Add(-time.Minute), "s-1")

	res, err := svc.SubmitAnswers(context.Background(), SubmitInput{
		UserID: 5, TestID: 1, SessionID: "s-1", ElapsedSeconds: 60,
		Answers: []AnswerInput{
			{QuestionID: 1, Kind: question.SingleChoice, OptionID: idPtr(10)},
			{QuestionID: 3, Kind: question.Numeric, Text: strPtr("42")},
			{QuestionID: 1, Kind: question.SingleChoice, OptionID: idPtr(11)},
		},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(res.PerQuestion) != 2 {
		t.Fatalf("expected one result per question, got %+v", res.PerQuestion)
	}
	if res.PerQuestion[0].QuestionID != 1 || res.PerQuestion[0].Outcome != OutcomeCorrect {
		t.Fatalf("expected last value for question 1 to win, got %+v", res.PerQuestion[0])
	}
	stored := repo.answersFor("s-1")
	if stored[0].Value.OptionID != 11 {
		t.Fatalf("expected stored option 11, got %+v", stored[0].Value)
	}
}

func TestSubmitAnswersFlagsElapsedDrift(t *testing.T) {
	svc, repo := newTestService(t, nil)
	startAt(t, svc, testClock.Add(-30*time.Minute), "s-1")

	res, err := svc.SubmitAnswers(context.Background(), SubmitInput{UserID: 5, TestID: 1, SessionID: "s-1", ElapsedSeconds: 120})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !res.ElapsedFlagged || res.ServerElapsedSeconds != 1800 || res.ElapsedSeconds != 120 {
		t.Fatalf("expected flagged drift 120 vs 1800, got %+v", res)
	}
	if !repo.session("s-1").ElapsedFlagged {
		t.Fatalf("flag must be persisted on the session")
	}
}

func TestSubmitAnswersFlagsLargestAcceptedElapsed(t *testing.T) {
	svc, _ := newTestService(t, nil)
	startAt(t, svc, testClock.Add(-30*time.Second), "s-1")

	res, err := svc.SubmitAnswers(context.Background(), SubmitInput{UserID: 5, TestID: 1, SessionID: "s-1", ElapsedSeconds: maxElapsedSeconds})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !res.ElapsedFlagged || res.ServerElapsedSeconds != 30 {
		t.Fatalf("expected huge client elapsed to be flagged, got %+v", res)
	}
}

func TestSubmitAnswersTrimsSessionID(t *testing.T) {
	svc, repo := newTestService(t, nil)
	startAt(t, svc, testClock.Add(-time.Minute), "s-1")

	res, err := svc.SubmitAnswers(context.Background(), SubmitInput{UserID: 5, TestID: 1, SessionID: "  s-1 ", ElapsedSeconds: 60})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.SessionID != "s-1" {
		t.Fatalf("expected trimmed session id, got %q", res.SessionID)
	}
	if s := repo.session("s-1"); !s.Submitted() {
		t.Fatalf("expected session s-1 closed")
	}
}

func TestSubmitAnswersRejections(t *testing.T) {
	svc, _ := newTestService(t, nil)
	startAt(t, svc, testClock.Add(-time.Minute), "s-1")

	tests := []struct {
		name string
		in   SubmitInput
		want error
	}{
		{name: "negative elapsed", in: SubmitInput{UserID: 5, TestID: 1, SessionID: "s-1", ElapsedSeconds: -1}, want: ErrInvalidArgument},
		{name: "elapsed beyond column range", in: SubmitInput{UserID: 5, TestID: 1, SessionID: "s-1", ElapsedSeconds: 3_000_000_000}, want: ErrInvalidArgument},
		{name: "blank session", in: SubmitInput{UserID: 5, TestID: 1, SessionID: "   "}, want: ErrInvalidArgument},
		{name: "missing session", in: SubmitInput{UserID: 5, TestID: 1}, want: ErrInvalidArgument},
		{name: "bad answer kind", in: SubmitInput{UserID: 5, TestID: 1, SessionID: "s-1", Answers: []AnswerInput{{QuestionID: 1, Kind: "essay"}}}, want: ErrInvalidArgument},
		{name: "unknown session", in: SubmitInput{UserID: 5, TestID: 1, SessionID: "nope"}, want: ErrSessionNotFound},
		{name: "other user", in: SubmitInput{UserID: 6, TestID: 1, SessionID: "s-1"}, want: ErrSessionForbidden},
		{name: "other test", in: SubmitInput{UserID: 5, TestID: 2, SessionID: "s-1"}, want: ErrSessionForbidden},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.SubmitAnswers(context.Background(), tc.in)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestSubmitAnswersNotifiesOnlyAfterCommit(t *testing.T) {
	n := &recordingNotifier{err: errors.New("smtp down")}
	svc, repo := newTestService(t, n)
	startAt(t, svc, testClock.Add(-time.Minute), "s-1")

	repo.failUpsertAt = 1
	if _, err := svc.SubmitAnswers(context.Background(), SubmitInput{UserID: 5, TestID: 1, SessionID: "s-1", ElapsedSeconds: 60, Answers: fullBatch()}); err == nil {
		t.Fatalf("expected injected failure")
	}
	if err := svc.Drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if n.count() != 0 {
		t.Fatalf("rolled back submission must not notify")
	}

	repo.failUpsertAt = 0
	if _, err := svc.SubmitAnswers(context.Background(), SubmitInput{UserID: 5, TestID: 1, SessionID: "s-1", ElapsedSeconds: 60, Answers: fullBatch()}); err != nil {
		t.Fatalf("notifier failure must not fail the submission: %v", err)
	}
	if err := svc.Drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if n.count() != 1 {
		t.Fatalf("expected one notice, got %d", n.count())
	}
	if got := n.notices[0]; got.SessionID != "s-1" || got.UserID != 5 || !got.SubmittedAt.Equal(testClock) {
		t.Fatalf("unexpected notice: %+v", got)
	}
}

func TestListUserSessionsAndCount(t *testing.T) {
	svc, _ := newTestService(t, nil)
	startAt(t, svc, testClock.Add(-time.Minute), "s-1")
	startAt(t, svc, testClock.Add(-time.Minute), "s-2")
	if _, err := svc.SubmitAnswers(context.Background(), SubmitInput{UserID: 5, TestID: 1, SessionID: "s-1", ElapsedSeconds: 60, Answers: fullBatch()}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	items, err := svc.ListUserSessions(context.Background(), 5)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 || items[0].SessionID != "s-1" || items[0].MarksObtained != 5 {
		t.Fatalf("unexpected history: %+v", items)
	}
	n, err := svc.CountSubmittedSessions(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("expected 1 submitted session, got %d (%v)", n, err)
	}
}

func TestSaveAnswerIsIdempotentAndKeepsSessionOpen(t *testing.T) {
	svc, repo := newTestService(t, nil)
	startAt(t, svc, testClock.Add(-time.Minute), "s-1")
	in := SaveInput{UserID: 5, TestID: 1, SessionID: "s-1", Answer: AnswerInput{QuestionID: 3, Kind: question.Numeric, Text: strPtr("42")}}

	for i := 0; i < 2; i++ {
		res, err := svc.SaveAnswer(context.Background(), in)
		if err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
		if res.Outcome != OutcomeCorrect || res.Marks != 4 {
			t.Fatalf("save %d: unexpected result %+v", i, res)
		}
	}
	stored := repo.answersFor("s-1")
	if len(stored) != 1 || stored[0].Value.Text != "42" {
		t.Fatalf("expected one stored answer, got %+v", stored)
	}
	if s := repo.session("s-1"); s.Submitted() {
		t.Fatalf("saving an answer must not close the session")
	}

	in.Answer.Text = strPtr("7")
	if _, err := svc.SaveAnswer(context.Background(), in); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	stored = repo.answersFor("s-1")
	if len(stored) != 1 || stored[0].Outcome != OutcomeIncorrect {
		t.Fatalf("expected overwritten answer, got %+v", stored)
	}
}

func TestSaveAnswerSurvivesEmptyFinalSubmit(t *testing.T) {
	svc, repo := newTestService(t, nil)
	startAt(t, svc, testClock.Add(-time.Minute), "s-1")

	if _, err := svc.SaveAnswer(context.Background(), SaveInput{
		UserID: 5, TestID: 1, SessionID: "s-1",
		Answer: AnswerInput{QuestionID: 1, Kind: question.SingleChoice, OptionID: idPtr(11)},
	}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := svc.SubmitAnswers(context.Background(), SubmitInput{UserID: 5, TestID: 1, SessionID: "s-1", ElapsedSeconds: 60}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	stored := repo.answersFor("s-1")
	if len(stored) != 1 || stored[0].Marks != 3 {
		t.Fatalf("expected saved answer kept after submit, got %+v", stored)
	}
}

func TestSaveAnswerRejections(t *testing.T) {
	svc, repo := newTestService(t, nil)
	startAt(t, svc, testClock.Add(-time.Minute), "s-1")
	startAt(t, svc, testClock.Add(-time.Minute), "s-2")
	if _, err := svc.SubmitAnswers(context.Background(), SubmitInput{UserID: 5, TestID: 1, SessionID: "s-2", ElapsedSeconds: 60}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	answer := AnswerInput{QuestionID: 3, Kind: question.Numeric, Text: strPtr("42")}

	tests := []struct {
		name string
		in   SaveInput
		want error
	}{
		{name: "closed session", in: SaveInput{UserID: 5, TestID: 1, SessionID: "s-2", Answer: answer}, want: ErrSessionClosed},
		{name: "unknown session", in: SaveInput{UserID: 5, TestID: 1, SessionID: "nope", Answer: answer}, want: ErrSessionNotFound},
		{name: "other user", in: SaveInput{UserID: 6, TestID: 1, SessionID: "s-1", Answer: answer}, want: ErrSessionForbidden},
		{name: "unknown question", in: SaveInput{UserID: 5, TestID: 1, SessionID: "s-1", Answer: AnswerInput{QuestionID: 404, Kind: question.Numeric, Text: strPtr("1")}}, want: ErrInvalidArgument},
		{name: "mixed fields", in: SaveInput{UserID: 5, TestID: 1, SessionID: "s-1", Answer: AnswerInput{QuestionID: 1, Kind: question.SingleChoice, OptionID: idPtr(11), Text: strPtr("x")}}, want: ErrInvalidArgument},
		{name: "blank session", in: SaveInput{UserID: 5, TestID: 1, SessionID: " ", Answer: answer}, want: ErrInvalidArgument},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.SaveAnswer(context.Background(), tc.in)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	if n := len(repo.answersFor("s-2")); n != 0 {
		t.Fatalf("closed session must not gain answers, got %d", n)
	}
}

type blockingNotifier struct {
	release chan struct{}
}

func (n *blockingNotifier) NotifySubmission(ctx context.Context, notice notify.SubmissionNotice) error {
	select {
	case <-n.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestDrainGivesUpWhenContextEnds(t *testing.T) {
	n := &blockingNotifier{release: make(chan struct{})}
	svc, _ := newTestService(t, n)
	startAt(t, svc, testClock.Add(-time.Minute), "s-1")
	if _, err := svc.SubmitAnswers(context.Background(), SubmitInput{UserID: 5, TestID: 1, SessionID: "s-1", ElapsedSeconds: 60}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := svc.Drain(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected drain to stop at deadline, got %v", err)
	}

	close(n.release)
	if err := svc.Drain(context.Background()); err != nil {
		t.Fatalf("drain after release: %v", err)
	}
}
