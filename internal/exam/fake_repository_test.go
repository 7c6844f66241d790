package exam

import (
	"context"
	"errors"
	"sort"
	"sync"

	"examportal/internal/question"
)

var errInjected = errors.New("injected storage failure")

type answerKey struct {
	sessionID  string
	questionID int64
}

// fakeRepository keeps committed state in maps. Each transaction works on a
// copy taken at begin and replaces the committed state only when fn returns
// nil.
type fakeRepository struct {
	mu        sync.Mutex
	tests     map[int64]bool
	questions map[int64]*question.Question
	sessions  map[string]Session
	answers   map[answerKey]AnswerRecord

	failUpsertAt int
	failClose    bool
	upserts      int
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		tests:     map[int64]bool{},
		questions: map[int64]*question.Question{},
		sessions:  map[string]Session{},
		answers:   map[answerKey]AnswerRecord{},
	}
}

func (r *fakeRepository) addQuestion(q *question.Question) {
	r.tests[q.TestID] = true
	r.questions[q.ID] = q
}

func (r *fakeRepository) TestExists(ctx context.Context, testID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tests[testID], nil
}

func (r *fakeRepository) StartOrResume(ctx context.Context, sess Session) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.sessions[sess.ID]
	if !ok {
		r.sessions[sess.ID] = sess
		out := sess
		return &out, nil
	}
	if existing.UserID != sess.UserID || existing.TestID != sess.TestID {
		return nil, ErrSessionForbidden
	}
	if existing.Submitted() {
		return nil, ErrSessionClosed
	}
	existing.StartedAt = sess.StartedAt
	r.sessions[sess.ID] = existing
	out := existing
	return &out, nil
}

func (r *fakeRepository) RunInTx(ctx context.Context, fn func(tx TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx := &fakeTx{repo: r, sessions: map[string]Session{}, answers: map[answerKey]AnswerRecord{}}
	for k, v := range r.sessions {
		tx.sessions[k] = v
	}
	for k, v := range r.answers {
		tx.answers[k] = v
	}
	if err := fn(tx); err != nil {
		return err
	}
	r.sessions = tx.sessions
	r.answers = tx.answers
	return nil
}

func (r *fakeRepository) ListUserSessions(ctx context.Context, userID int64, limit int) ([]SessionSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]SessionSummary, 0)
	for _, s := range r.sessions {
		if s.UserID != userID || !s.Submitted() {
			continue
		}
		it := SessionSummary{SessionID: s.ID, TestID: s.TestID, StartedAt: s.StartedAt, SubmittedAt: *s.SubmittedAt, ElapsedFlagged: s.ElapsedFlagged}
		if s.ElapsedSeconds != nil {
			it.ElapsedSeconds = *s.ElapsedSeconds
		}
		for k, a := range r.answers {
			if k.sessionID == s.ID {
				it.MarksObtained += a.Marks
			}
		}
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.After(out[j].SubmittedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeRepository) CountSubmittedSessions(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, s := range r.sessions {
		if s.Submitted() {
			n++
		}
	}
	return n, nil
}

func (r *fakeRepository) answersFor(sessionID string) []AnswerRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]AnswerRecord, 0)
	for k, a := range r.answers {
		if k.sessionID == sessionID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuestionID < out[j].QuestionID })
	return out
}

func (r *fakeRepository) session(id string) Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[id]
}

type fakeTx struct {
	repo     *fakeRepository
	sessions map[string]Session
	answers  map[answerKey]AnswerRecord
}

func (t *fakeTx) LockSession(ctx context.Context, sessionID string) (*Session, error) {
	s, ok := t.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return &s, nil
}

func (t *fakeTx) GetQuestion(ctx context.Context, questionID int64) (*question.Question, error) {
	q, ok := t.repo.questions[questionID]
	if !ok {
		return nil, question.ErrQuestionNotFound
	}
	return q, nil
}

func (t *fakeTx) UpsertAnswer(ctx context.Context, a AnswerRecord) error {
	t.repo.upserts++
	if t.repo.failUpsertAt > 0 && t.repo.upserts == t.repo.failUpsertAt {
		return errInjected
	}
	t.answers[answerKey{sessionID: a.SessionID, questionID: a.QuestionID}] = a
	return nil
}

func (t *fakeTx) CloseSession(ctx context.Context, sessionID string, c SessionClose) error {
	if t.repo.failClose {
		return errInjected
	}
	s, ok := t.sessions[sessionID]
	if !ok || s.Submitted() {
		return ErrSessionClosed
	}
	submitted := c.SubmittedAt
	elapsed := c.ElapsedSeconds
	serverElapsed := c.ServerElapsedSeconds
	s.SubmittedAt = &submitted
	s.ElapsedSeconds = &elapsed
	s.ServerElapsedSeconds = &serverElapsed
	s.ElapsedFlagged = c.ElapsedFlagged
	t.sessions[sessionID] = s
	return nil
}
