package specrt

import (
	"fmt"
	"os"

	"github.com/liberty-specpriv/specpriv/pkg/heap"
	"github.com/liberty-specpriv/specpriv/pkg/squeue"
)

// StageHeapSegmentSize is the size of the versioned-heap segment each
// pipeline stage gets, divided evenly across pkg/heap's NumSubheaps
// sub-heaps.
const StageHeapSegmentSize = uintptr(1) << 24

// queueRingOffset is how far into a queue segment's mapping the
// squeue.Ring actually starts: heap.Segment reserves its own
// sub-heap-cursor header at the front of every mapping it creates, and
// the ring must not overlap it even though this segment's "sub-heaps"
// are never allocated from.
const queueRingOffset = 256

// StageQueueSegmentSize is the size of the segment backing one stage's
// outbound squeue.Ring: the reserved offset plus the ring's own header
// and QSize words.
const StageQueueSegmentSize = queueRingOffset + uintptr(2*squeue.WordSize) + squeue.QSize*squeue.WordSize

func heapSegmentIndex(stage int) int  { return 2 * stage }
func queueSegmentIndex(stage int) int { return 2*stage + 1 }

func heapSegmentEnv(stage int) string  { return fmt.Sprintf("SPECPRIV_HEAP_SEGMENT_%d", stage) }
func queueSegmentEnv(stage int) string { return fmt.Sprintf("SPECPRIV_QUEUE_SEGMENT_%d", stage) }

// StageResources is everything a worker process needs mapped before it
// can run its stage body: its own versioned-heap segment to allocate
// from, and the outbound software queue it hands cross-stage values to
// its successor through.
type StageResources struct {
	Heap     *heap.Segment
	OutQueue *squeue.Ring

	queueSeg *heap.Segment
}

// Close unmaps every resource this worker mapped. It does not Unlink: the
// segments outlive any one worker process and only the spawning process
// that created them should remove their shm names.
func (r *StageResources) Close() error {
	var first error

	if r.Heap != nil {
		if err := r.Heap.Close(); err != nil && first == nil {
			first = err
		}
	}

	if r.queueSeg != nil {
		if err := r.queueSeg.Close(); err != nil && first == nil {
			first = err
		}
	}

	return first
}

// Unlink removes the backing shm names. Only the process that called
// CreatePipelineResources should call this, once every worker has exited.
func (r *StageResources) Unlink() error {
	var first error

	if r.Heap != nil {
		if err := r.Heap.Unlink(); err != nil && first == nil {
			first = err
		}
	}

	if r.queueSeg != nil {
		if err := r.queueSeg.Unlink(); err != nil && first == nil {
			first = err
		}
	}

	return first
}

// CreatePipelineResources allocates the heap and queue segments for every
// pipeline stage up front, before any worker process exists to create
// them itself, so SpawnWorkers can hand each spawned copy the names of
// segments to open rather than create.
func CreatePipelineResources(stageCount int) ([]*StageResources, error) {
	resources := make([]*StageResources, 0, stageCount)

	for i := 0; i < stageCount; i++ {
		r, err := createStageResources(i)
		if err != nil {
			closeAll(resources)

			return nil, fmt.Errorf("specrt: creating stage %d resources: %w", i, err)
		}

		resources = append(resources, r)
	}

	return resources, nil
}

func createStageResources(stage int) (*StageResources, error) {
	hseg, err := heap.CreateSegment(heap.Pid(), heap.BaseAddress(heapSegmentIndex(stage)), fmt.Sprintf("stage%d-heap", stage), StageHeapSegmentSize)
	if err != nil {
		return nil, fmt.Errorf("heap segment: %w", err)
	}

	qseg, err := heap.CreateSegment(heap.Pid(), heap.BaseAddress(queueSegmentIndex(stage)), fmt.Sprintf("stage%d-queue", stage), StageQueueSegmentSize)
	if err != nil {
		_ = hseg.Close()

		return nil, fmt.Errorf("queue segment: %w", err)
	}

	ring, err := squeue.NewRingOverMemory(qseg.Bytes()[queueRingOffset:])
	if err != nil {
		_ = hseg.Close()
		_ = qseg.Close()

		return nil, fmt.Errorf("mapping queue ring: %w", err)
	}

	return &StageResources{Heap: hseg, OutQueue: ring, queueSeg: qseg}, nil
}

// closeAll unmaps every resource already created, used to unwind a
// partially-successful CreatePipelineResources call.
func closeAll(resources []*StageResources) {
	for _, r := range resources {
		_ = r.Close()
		_ = r.Unlink()
	}
}

// EnvFor returns the environment variables a spawned worker needs to open
// the segments in resources instead of creating its own. Exported so
// tests and callers that drive a worker stage without going through
// SpawnWorkers can still populate the environment OpenStageResources
// reads from.
func EnvFor(resources []*StageResources) []string {
	return stageEnv(resources)
}

// stageEnv returns the extra environment variables a spawned worker needs
// to open every stage's segments instead of creating its own.
func stageEnv(resources []*StageResources) []string {
	env := make([]string, 0, 2*len(resources))

	for i, r := range resources {
		env = append(env, fmt.Sprintf("%s=%s", heapSegmentEnv(i), r.Heap.Name()))
		env = append(env, fmt.Sprintf("%s=%s", queueSegmentEnv(i), r.queueSeg.Name()))
	}

	return env
}

// OpenStageResources maps stageIndex's own segments, created by a prior
// CreatePipelineResources call in the spawning process, plus the
// predecessor stage's outbound queue (this stage's inbound queue), by
// reading the segment names SpawnWorkers placed in the environment.
// inQueue is nil for stage 0, which has no predecessor.
func OpenStageResources(stageIndex int) (own *StageResources, inQueue *squeue.Ring, err error) {
	own, err = openStageOwnResources(stageIndex)
	if err != nil {
		return nil, nil, err
	}

	if stageIndex == 0 {
		return own, nil, nil
	}

	predQueueSeg, err := openQueueSegment(stageIndex - 1)
	if err != nil {
		_ = own.Close()

		return nil, nil, fmt.Errorf("specrt: opening stage %d's predecessor queue: %w", stageIndex, err)
	}

	inQueue, err = squeue.NewRingOverMemory(predQueueSeg.Bytes()[queueRingOffset:])
	if err != nil {
		_ = own.Close()
		_ = predQueueSeg.Close()

		return nil, nil, fmt.Errorf("specrt: mapping stage %d's predecessor queue: %w", stageIndex, err)
	}

	return own, inQueue, nil
}

func openStageOwnResources(stage int) (*StageResources, error) {
	hname := os.Getenv(heapSegmentEnv(stage))
	if hname == "" {
		return nil, fmt.Errorf("specrt: missing heap segment env for stage %d", stage)
	}

	hseg, err := heap.OpenSegment(hname, heap.BaseAddress(heapSegmentIndex(stage)), StageHeapSegmentSize, heap.MapShared)
	if err != nil {
		return nil, fmt.Errorf("specrt: opening stage %d heap segment: %w", stage, err)
	}

	qseg, err := openQueueSegment(stage)
	if err != nil {
		_ = hseg.Close()

		return nil, err
	}

	ring, err := squeue.NewRingOverMemory(qseg.Bytes()[queueRingOffset:])
	if err != nil {
		_ = hseg.Close()
		_ = qseg.Close()

		return nil, fmt.Errorf("specrt: mapping stage %d queue ring: %w", stage, err)
	}

	return &StageResources{Heap: hseg, OutQueue: ring, queueSeg: qseg}, nil
}

func openQueueSegment(stage int) (*heap.Segment, error) {
	name := os.Getenv(queueSegmentEnv(stage))
	if name == "" {
		return nil, fmt.Errorf("specrt: missing queue segment env for stage %d", stage)
	}

	return heap.OpenSegment(name, heap.BaseAddress(queueSegmentIndex(stage)), StageQueueSegmentSize, heap.MapShared)
}
