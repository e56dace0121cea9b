package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/gradeflow-api/internal/models"
	"github.com/noah-isme/gradeflow-api/internal/queue"
)

type memAssignmentRepo struct {
	mu          sync.Mutex
	nextID      uint
	assignments map[uint]models.Assignment
}

func newMemAssignmentRepo() *memAssignmentRepo {
	return &memAssignmentRepo{assignments: make(map[uint]models.Assignment)}
}

func (r *memAssignmentRepo) Create(_ context.Context, assignment *models.Assignment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	assignment.ID = r.nextID
	r.assignments[assignment.ID] = *assignment
	return nil
}

func (r *memAssignmentRepo) Update(_ context.Context, assignment *models.Assignment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assignments[assignment.ID] = *assignment
	return nil
}

func (r *memAssignmentRepo) List(_ context.Context) ([]models.Assignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Assignment
	for _, assignment := range r.assignments {
		out = append(out, assignment)
	}
	return out, nil
}

func (r *memAssignmentRepo) GetByID(_ context.Context, id uint) (models.Assignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	assignment, ok := r.assignments[id]
	if !ok {
		return models.Assignment{}, gorm.ErrRecordNotFound
	}
	return assignment, nil
}

type memGuideRepo struct {
	mu     sync.Mutex
	nextID uint
	guides map[uint]models.GuideVersion
}

func newMemGuideRepo() *memGuideRepo {
	return &memGuideRepo{guides: make(map[uint]models.GuideVersion)}
}

func (r *memGuideRepo) Create(_ context.Context, guide *models.GuideVersion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	guide.ID = r.nextID
	r.guides[guide.ID] = *guide
	return nil
}

func (r *memGuideRepo) GetByID(_ context.Context, id uint) (models.GuideVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	guide, ok := r.guides[id]
	if !ok {
		return models.GuideVersion{}, gorm.ErrRecordNotFound
	}
	return guide, nil
}

func (r *memGuideRepo) ListByAssignment(_ context.Context, assignmentID uint) ([]models.GuideVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.GuideVersion
	for _, guide := range r.guides {
		if guide.AssignmentID == assignmentID {
			out = append(out, guide)
		}
	}
	return out, nil
}

func (r *memGuideRepo) Update(_ context.Context, guide *models.GuideVersion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.guides[guide.ID] = *guide
	return nil
}

func (r *memGuideRepo) ActiveForAssignment(_ context.Context, assignmentID uint) (models.GuideVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, guide := range r.guides {
		if guide.AssignmentID == assignmentID && guide.Status == models.GuideStatusActive {
			return guide, nil
		}
	}
	return models.GuideVersion{}, gorm.ErrRecordNotFound
}

func (r *memGuideRepo) Activate(_ context.Context, id uint, at time.Time) (models.GuideVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	guide, ok := r.guides[id]
	if !ok {
		return models.GuideVersion{}, gorm.ErrRecordNotFound
	}
	for otherID, other := range r.guides {
		if other.AssignmentID == guide.AssignmentID && other.Status == models.GuideStatusActive {
			other.Status = models.GuideStatusApproved
			r.guides[otherID] = other
		}
	}
	guide.Status = models.GuideStatusActive
	guide.ActivatedAt = &at
	r.guides[id] = guide
	return guide, nil
}

func (r *memGuideRepo) Status(_ context.Context, id uint) (string, error) {
	guide, err := r.GetByID(context.Background(), id)
	if err != nil {
		return "", err
	}
	return guide.Status, nil
}

type memSubmissionRepo struct {
	mu          sync.Mutex
	nextID      uint
	submissions map[uint]models.Submission
}

func newMemSubmissionRepo() *memSubmissionRepo {
	return &memSubmissionRepo{submissions: make(map[uint]models.Submission)}
}

func (r *memSubmissionRepo) Create(_ context.Context, submission *models.Submission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	submission.ID = r.nextID
	r.submissions[submission.ID] = *submission
	return nil
}

func (r *memSubmissionRepo) GetByID(_ context.Context, id uint) (models.Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	submission, ok := r.submissions[id]
	if !ok {
		return models.Submission{}, gorm.ErrRecordNotFound
	}
	return submission, nil
}

func (r *memSubmissionRepo) ListByAssignment(_ context.Context, assignmentID uint) ([]models.Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Submission
	for _, submission := range r.submissions {
		if submission.AssignmentID == assignmentID {
			out = append(out, submission)
		}
	}
	return out, nil
}

func (r *memSubmissionRepo) GetByAssignmentAndStudent(_ context.Context, assignmentID uint, student string) (models.Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, submission := range r.submissions {
		if submission.AssignmentID == assignmentID && submission.StudentIdentifier == student {
			return submission, nil
		}
	}
	return models.Submission{}, gorm.ErrRecordNotFound
}

type memJobRepo struct {
	mu     sync.Mutex
	nextID uint
	jobs   map[uint]models.GradingJob
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{jobs: make(map[uint]models.GradingJob)}
}

func (r *memJobRepo) CreateExclusive(_ context.Context, job *models.GradingJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.jobs {
		if existing.SubmissionID == job.SubmissionID && !existing.IsTerminal() {
			return errors.New("submission already has an active grading job")
		}
	}
	r.nextID++
	job.ID = r.nextID
	r.jobs[job.ID] = *job
	return nil
}

func (r *memJobRepo) GetByID(_ context.Context, id uint) (models.GradingJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return models.GradingJob{}, gorm.ErrRecordNotFound
	}
	return job, nil
}

func (r *memJobRepo) ListByAssignment(_ context.Context, assignmentID uint) ([]models.GradingJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.GradingJob
	for _, job := range r.jobs {
		if job.AssignmentID == assignmentID {
			out = append(out, job)
		}
	}
	return out, nil
}

func (r *memJobRepo) ListBySubmission(_ context.Context, submissionID uint) ([]models.GradingJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.GradingJob
	for _, job := range r.jobs {
		if job.SubmissionID == submissionID {
			out = append(out, job)
		}
	}
	return out, nil
}

func (r *memJobRepo) Update(_ context.Context, job *models.GradingJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = *job
	return nil
}

func (r *memJobRepo) RecordQueueMessage(_ context.Context, id uint, messageID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	job.QueueMessageID = messageID
	r.jobs[id] = job
	return nil
}

func (r *memJobRepo) Transition(_ context.Context, id uint, from, to string, fields map[string]interface{}) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.Status != from {
		return false, nil
	}
	job.Status = to
	if message, ok := fields["message"].(string); ok {
		job.Message = message
	}
	if kind, ok := fields["error_kind"].(string); ok {
		job.ErrorKind = kind
	}
	if at, ok := fields["finished_at"].(time.Time); ok {
		job.FinishedAt = &at
	}
	r.jobs[id] = job
	return true, nil
}

func (r *memJobRepo) Status(_ context.Context, id uint) (string, error) {
	job, err := r.GetByID(context.Background(), id)
	if err != nil {
		return "", err
	}
	return job.Status, nil
}

// recordingQueue captures submitted tasks without executing them. An
// optional hook runs during Submit to simulate a worker racing the caller.
type recordingQueue struct {
	mu         sync.Mutex
	tasks      []queue.Task
	failing    bool
	submitHook func(queue.Task)
}

func (q *recordingQueue) Submit(ctx context.Context, task queue.Task) (string, error) {
	q.mu.Lock()
	if q.failing {
		q.mu.Unlock()
		return "", errors.New("broker unavailable")
	}
	task.MessageID = "msg-1"
	q.tasks = append(q.tasks, task)
	hook := q.submitHook
	q.mu.Unlock()

	if hook != nil {
		hook(task)
	}
	return task.MessageID, nil
}

func (q *recordingQueue) Close() error { return nil }

func (q *recordingQueue) submitted() []queue.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]queue.Task, len(q.tasks))
	copy(out, q.tasks)
	return out
}
