// Package replay implements a fixed-capacity circular experience buffer.
//
// The buffer holds batchSize lanes of maxLength rows each. Every call to
// Record writes one row into every lane under a single id taken from a
// global counter, so the ids present always form a contiguous range.
package replay

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zeu5/rl-ppo/core"
	erand "golang.org/x/exp/rand"
)

var (
	ErrInvalidConfig = errors.New("invalid buffer configuration")
	ErrBatchSize     = errors.New("record batch size mismatch")
	ErrEmpty         = errors.New("buffer is empty")
	ErrWindowTooLong = errors.New("step count exceeds recorded length")
)

type options struct {
	seed uint64
}

type Option func(*options)

// WithSeed fixes the seed of the sampling source.
func WithSeed(seed uint64) Option {
	return func(o *options) {
		o.seed = seed
	}
}

// Buffer is a batch-parallel ring buffer over a Batchable record type.
//
// Record may be called from several goroutines. Only the id increment is
// mutually exclusive across the whole buffer. Row writes share the phase lock
// and serialize per slot, where a slot is id modulo maxLength; a writer whose
// slot already belongs to a newer id skips its write. RecordedData,
// SampleBatch and Reset take the phase lock exclusively and therefore wait
// for in-flight writes.
type Buffer[R core.Batchable[R]] struct {
	batchSize int
	maxLength int

	idMtx  sync.Mutex
	nextID int64

	phase     sync.RWMutex
	storage   R
	allocated bool

	slotMtx []sync.Mutex
	// owner is the id last written to each slot, -1 when none
	owner []int64

	rand *erand.Rand
}

// New creates a buffer of batchSize lanes holding the most recent maxLength records.
func New[R core.Batchable[R]](batchSize, maxLength int, opts ...Option) (*Buffer[R], error) {
	if batchSize <= 0 || maxLength <= 0 {
		return nil, fmt.Errorf("%w: batch size %d, max length %d", ErrInvalidConfig, batchSize, maxLength)
	}
	o := &options{seed: uint64(time.Now().UnixNano())}
	for _, opt := range opts {
		opt(o)
	}
	b := &Buffer[R]{
		batchSize: batchSize,
		maxLength: maxLength,
		slotMtx:   make([]sync.Mutex, maxLength),
		owner:     make([]int64, maxLength),
		rand:      erand.New(erand.NewSource(o.seed)),
	}
	b.clearOwners()
	return b, nil
}

func (b *Buffer[R]) clearOwners() {
	for i := range b.owner {
		b.owner[i] = -1
	}
}

func (b *Buffer[R]) BatchSize() int {
	return b.batchSize
}

func (b *Buffer[R]) MaxLength() int {
	return b.maxLength
}

// Capacity is the total number of rows the buffer can hold.
func (b *Buffer[R]) Capacity() int {
	return b.batchSize * b.maxLength
}

// Record writes batch, whose rows are the lanes, under the next id and
// returns that id. The oldest record of every lane is overwritten once the
// buffer has wrapped.
func (b *Buffer[R]) Record(batch R) (int64, error) {
	if batch.Rows() != b.batchSize {
		return -1, fmt.Errorf("%w: got %d rows, want %d", ErrBatchSize, batch.Rows(), b.batchSize)
	}

	b.phase.RLock()
	for !b.allocated {
		b.phase.RUnlock()
		if err := b.allocate(batch); err != nil {
			return -1, err
		}
		b.phase.RLock()
	}
	defer b.phase.RUnlock()

	if err := b.storage.Compatible(batch); err != nil {
		return -1, err
	}

	id := b.takeID()
	if err := b.write(id, batch); err != nil {
		return -1, err
	}
	return id, nil
}

// write stores batch in the slot of id unless a newer id got there first.
func (b *Buffer[R]) write(id int64, batch R) error {
	slot := int(id % int64(b.maxLength))
	b.slotMtx[slot].Lock()
	defer b.slotMtx[slot].Unlock()
	if b.owner[slot] > id {
		return nil
	}
	rows := make([]int, b.batchSize)
	for lane := range rows {
		rows[lane] = b.row(lane, id)
	}
	if err := b.storage.ScatterUpdate(rows, batch); err != nil {
		return err
	}
	b.owner[slot] = id
	return nil
}

func (b *Buffer[R]) allocate(batch R) error {
	b.phase.Lock()
	defer b.phase.Unlock()
	if b.allocated {
		return nil
	}
	if err := batch.Compatible(batch); err != nil {
		return err
	}
	b.storage = batch.Allocate(b.Capacity())
	b.allocated = true
	return nil
}

func (b *Buffer[R]) takeID() int64 {
	b.idMtx.Lock()
	defer b.idMtx.Unlock()
	id := b.nextID
	b.nextID++
	return id
}

// row is the storage row of the given id within a lane.
func (b *Buffer[R]) row(lane int, id int64) int {
	return lane*b.maxLength + int(id%int64(b.maxLength))
}

// ValidRange returns the ids [low, high) currently held by every lane.
func (b *Buffer[R]) ValidRange() (int64, int64, error) {
	b.phase.Lock()
	defer b.phase.Unlock()
	return b.validRange()
}

func (b *Buffer[R]) validRange() (int64, int64, error) {
	b.idMtx.Lock()
	high := b.nextID
	b.idMtx.Unlock()
	if high == 0 {
		return 0, 0, ErrEmpty
	}
	if high < int64(b.maxLength) {
		return 0, high, nil
	}
	return high - int64(b.maxLength), high, nil
}

// Len returns the number of ids currently held, 0 for an empty buffer.
func (b *Buffer[R]) Len() int {
	low, high, err := b.ValidRange()
	if err != nil {
		return 0
	}
	return int(high - low)
}

// RecordedData returns the rows of every valid id, time-major and in
// ascending id order, together with the number of ids.
func (b *Buffer[R]) RecordedData() (R, int, error) {
	b.phase.Lock()
	defer b.phase.Unlock()

	var zero R
	low, high, err := b.validRange()
	if err != nil {
		return zero, 0, err
	}
	length := int(high - low)
	rows := make([]int, 0, length*b.batchSize)
	for id := low; id < high; id++ {
		for lane := 0; lane < b.batchSize; lane++ {
			rows = append(rows, b.row(lane, id))
		}
	}
	return b.storage.Gather(rows), length, nil
}

// Sample is the result of SampleBatch. Batch is time-major: row t*len(IDs)+i
// is step t of window i.
type Sample[R any] struct {
	Batch         R
	IDs           []int64
	Lanes         []int
	Probabilities []float64
}

// SampleBatch draws batchSize windows of stepCount consecutive ids uniformly
// and with replacement over (id, lane). Windows start no later than
// high-stepCount so that they are fully resident.
func (b *Buffer[R]) SampleBatch(batchSize, stepCount int) (*Sample[R], error) {
	if batchSize <= 0 || stepCount <= 0 {
		return nil, fmt.Errorf("%w: batch size %d, step count %d", ErrInvalidConfig, batchSize, stepCount)
	}

	b.phase.Lock()
	defer b.phase.Unlock()

	low, high, err := b.validRange()
	if err != nil {
		return nil, err
	}
	validLength := high - low
	if int64(stepCount) > validLength {
		return nil, fmt.Errorf("%w: %d steps requested, %d recorded", ErrWindowTooLong, stepCount, validLength)
	}
	starts := validLength - int64(stepCount-1)

	sample := &Sample[R]{
		IDs:           make([]int64, batchSize),
		Lanes:         make([]int, batchSize),
		Probabilities: make([]float64, batchSize),
	}
	probability := 1 / float64(validLength*int64(b.batchSize))
	for i := 0; i < batchSize; i++ {
		sample.IDs[i] = low + b.rand.Int63n(starts)
		sample.Lanes[i] = b.rand.Intn(b.batchSize)
		sample.Probabilities[i] = probability
	}

	rows := make([]int, 0, batchSize*stepCount)
	for t := 0; t < stepCount; t++ {
		for i := 0; i < batchSize; i++ {
			rows = append(rows, b.row(sample.Lanes[i], sample.IDs[i]+int64(t)))
		}
	}
	sample.Batch = b.storage.Gather(rows)
	return sample, nil
}

// Sample draws batchSize single-step records.
func (b *Buffer[R]) Sample(batchSize int) (*Sample[R], error) {
	return b.SampleBatch(batchSize, 1)
}

// Reset discards all records; the next Record restarts at id 0.
func (b *Buffer[R]) Reset() {
	b.phase.Lock()
	defer b.phase.Unlock()

	b.idMtx.Lock()
	b.nextID = 0
	b.idMtx.Unlock()

	var zero R
	b.storage = zero
	b.allocated = false
	b.clearOwners()
}
