package visq

import (
	"sync"
	"time"

	"github.com/visq/visq/engine"
	"github.com/visq/visq/query"
)

// Status is a point-in-time snapshot of a query worker, safe to hand to
// pollers.
type Status struct {
	QID   int
	Query query.Query
	State query.State

	// TrainingImagePaths and CuratedImagePaths list the training images
	// collected so far, in server-relative form, so a UI can show them
	// while the query is still running.
	TrainingImagePaths []string
	CuratedImagePaths  []string
	NegTrainingCount   int

	ExecTimeProcessing time.Duration
	ExecTimeTraining   time.Duration
	ExecTimeRanking    time.Duration

	ErrMsg string
}

// Worker tracks the execution of one query. The executing pool goroutine
// writes through the engine.Progress methods; pollers read snapshots via
// Status.
type Worker struct {
	qid       int
	q         query.Query
	signature string

	mu             sync.Mutex
	state          query.State
	trainingImages []string
	curatedImages  []string
	negCount       int
	procTime       time.Duration
	trainTime      time.Duration
	rankTime       time.Duration
	errMsg         string
}

var _ engine.Progress = (*Worker)(nil)

func newWorker(qid int, q query.Query) *Worker {
	return &Worker{
		qid:       qid,
		q:         q,
		signature: q.Signature(),
		state:     query.StateProcessing,
	}
}

// Status returns a snapshot copy of the worker's current state.
func (w *Worker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Status{
		QID:                w.qid,
		Query:              w.q,
		State:              w.state,
		TrainingImagePaths: append([]string(nil), w.trainingImages...),
		CuratedImagePaths:  append([]string(nil), w.curatedImages...),
		NegTrainingCount:   w.negCount,
		ExecTimeProcessing: w.procTime,
		ExecTimeTraining:   w.trainTime,
		ExecTimeRanking:    w.rankTime,
		ErrMsg:             w.errMsg,
	}
}

func (w *Worker) SetState(s query.State) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = s
}

func (w *Worker) SetError(msg string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.errMsg = msg
}

func (w *Worker) AddTrainingImages(paths ...string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.trainingImages = append(w.trainingImages, paths...)
}

func (w *Worker) AddCuratedImages(paths ...string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.curatedImages = append(w.curatedImages, paths...)
}

func (w *Worker) AddNegTrainingCount(n int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.negCount += n
}

func (w *Worker) SetProcessingTime(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.procTime = d
}

func (w *Worker) SetTrainingTime(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.trainTime = d
}

func (w *Worker) SetRankingTime(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rankTime = d
}
