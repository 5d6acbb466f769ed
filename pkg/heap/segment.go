package heap

import (
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// MapMode selects how a worker process maps a segment into its address
// space.
type MapMode int

const (
	// MapShared backs the mapping with the live segment: writes are visible
	// to every process mapping it (used for Shared and Redux heaps).
	MapShared MapMode = iota
	// MapReadOnly maps the segment PROT_READ only (ReadOnly heaps).
	MapReadOnly
	// MapCopyOnWrite maps the segment MAP_PRIVATE: writes are local to the
	// mapping process and never reach the backing segment (Private,
	// KillPrivate, SharePrivate heaps before their respective commit/kill
	// points).
	MapCopyOnWrite
	// MapAnonymous ignores the backing segment and maps fresh anonymous
	// memory at the same fixed address (used to recycle a Private heap
	// between iterations without touching the shared segment).
	MapAnonymous
)

// Segment is a named POSIX shared-memory region mapped at the same fixed
// virtual address in every worker process, so that pointers written by one
// process remain valid when read by another.
type Segment struct {
	name string
	fd   int
	addr uintptr
	size uintptr
}

// cursorHeaderSize is the region reserved at the very start of sub-heap 0
// to hold every sub-heap's bump-pointer cursor, one uint64 each. Storing
// the cursors in the mapping itself, rather than in a process-local field,
// is what lets OpenSegment recover the live allocation state of a segment
// another process created: every process mapping the segment reads and
// advances the same cursors.
const cursorHeaderSize = uintptr(NumSubheaps) * 8

// cursorPtr returns a pointer to sub-heap i's cursor word inside the live
// mapping.
func (s *Segment) cursorPtr(i int) *uint64 {
	return (*uint64)(unsafe.Pointer(s.addr + uintptr(i)*8))
}

func (s *Segment) cursor(i int) uintptr {
	return uintptr(atomic.LoadUint64(s.cursorPtr(i)))
}

func (s *Segment) setCursor(i int, v uintptr) {
	atomic.StoreUint64(s.cursorPtr(i), uint64(v))
}

func (s *Segment) casCursor(i int, old, new uintptr) bool {
	return atomic.CompareAndSwapUint64(s.cursorPtr(i), uint64(old), uint64(new))
}

// segmentStride spaces consecutive segments far enough apart in the shared
// virtual-address layout that NUM_SUBHEAPS sub-heaps, each up to 1<<30
// bytes, never collide across segments mapped in the same process.
const segmentStride = uintptr(1) << 34

// regionBase anchors the whole fixed-address region well above the
// default mmap arena so ordinary heap/library mappings never collide with
// it.
const regionBase = uintptr(0x600000000000)

// BaseAddress returns the deterministic fixed mapping address for the
// index-th segment (0 = Redux, 1 = Private, 2 = Shared/ReadOnly, ... per
// the caller's own enumeration), so every worker process computes the same
// address without coordination.
func BaseAddress(index int) uintptr {
	return regionBase + uintptr(index)*segmentStride
}

// shmPath is the filesystem path backing a POSIX shared-memory name; Linux
// exposes shm_open's namespace directly under /dev/shm.
func shmPath(name string) string {
	return "/dev/shm" + name
}

func rawMmap(addr, length uintptr, prot, flags int, fd int, offset int64) (uintptr, error) {
	ret, _, errno := unix.Syscall6(unix.SYS_MMAP, addr, length, uintptr(prot), uintptr(flags), uintptr(fd), uintptr(offset))
	if errno != 0 {
		return 0, errno
	}

	if ret != addr {
		rawMunmap(ret, length)

		return 0, fmt.Errorf("heap: kernel placed mapping at %#x, wanted %#x (MAP_FIXED should have refused)", ret, addr)
	}

	return ret, nil
}

func rawMunmap(addr, length uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_MUNMAP, addr, length, 0)
	if errno != 0 {
		return errno
	}

	return nil
}

// CreateSegment allocates a new named shared-memory segment of size bytes
// at a fixed address, for pid and desc forming its shm_open name
// (/specpriv-<pid>-<base>-<nonce>-<desc>, nonce from a random UUID so
// repeated runs and crash-restarts never collide on a stale name).
func CreateSegment(pid int, base uintptr, desc string, size uintptr) (*Segment, error) {
	name := fmt.Sprintf("/specpriv-%d-%x-%s-%s", pid, base, uuid.NewString()[:8], desc)

	fd, err := unix.Open(shmPath(name), unix.O_CREAT|unix.O_EXCL|unix.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("heap: create segment %s: %w", name, err)
	}

	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		unix.Unlink(shmPath(name))

		return nil, fmt.Errorf("heap: ftruncate %s to %d: %w", name, size, err)
	}

	if _, err := rawMmap(base, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_FIXED, fd, 0); err != nil {
		unix.Close(fd)
		unix.Unlink(shmPath(name))

		return nil, fmt.Errorf("heap: mmap %s at %#x: %w", name, base, err)
	}

	seg := &Segment{name: name, fd: fd, addr: base, size: size}
	seg.Reset()

	return seg, nil
}

// OpenSegment maps an existing named segment, created by CreateSegment in
// another process, into the caller's address space in the given mode.
func OpenSegment(name string, base uintptr, size uintptr, mode MapMode) (*Segment, error) {
	if mode == MapAnonymous {
		return mapAnonymous(base, size)
	}

	openFlags := unix.O_RDWR
	prot := unix.PROT_READ | unix.PROT_WRITE
	mmapFlags := unix.MAP_SHARED

	if mode == MapReadOnly {
		openFlags = unix.O_RDONLY
		prot = unix.PROT_READ
	} else if mode == MapCopyOnWrite {
		mmapFlags = unix.MAP_PRIVATE
	}

	fd, err := unix.Open(shmPath(name), openFlags, 0)
	if err != nil {
		return nil, fmt.Errorf("heap: open segment %s: %w", name, err)
	}

	if _, err := rawMmap(base, size, prot, mmapFlags|unix.MAP_FIXED, fd, 0); err != nil {
		unix.Close(fd)

		return nil, fmt.Errorf("heap: mmap %s at %#x mode %d: %w", name, base, mode, err)
	}

	return &Segment{name: name, fd: fd, addr: base, size: size}, nil
}

func mapAnonymous(base, size uintptr) (*Segment, error) {
	if _, err := rawMmap(base, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON|unix.MAP_FIXED, -1, 0); err != nil {
		return nil, fmt.Errorf("heap: anonymous mmap at %#x: %w", base, err)
	}

	seg := &Segment{name: "", fd: -1, addr: base, size: size}
	seg.Reset()

	return seg, nil
}

// Addr returns the segment's fixed base address.
func (s *Segment) Addr() uintptr { return s.addr }

// Name returns the shm_open name, or "" for an anonymous mapping.
func (s *Segment) Name() string { return s.name }

// Bytes views the live mapping as a byte slice, for direct reads/writes
// such as the squeue.Ring that pkg/specrt lays over a queue segment.
func (s *Segment) Bytes() []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(s.addr)), int(s.size))
}

// Reset rewinds every sub-heap's bump-pointer cursor to its start, the
// cheap "free everything" operation run between loop invocations. Sub-heap
// 0's cursor starts past the cursor header and one further next-pointer
// word.
func (s *Segment) Reset() {
	for i := 0; i < NumSubheaps; i++ {
		if i == 0 {
			// Sub-heap 0 also carries the cursor header itself plus the
			// next-pointer word used to chain overflow blocks, matching the
			// zeroth-subheap convention of the legacy heap manager this
			// layer replaces.
			s.setCursor(i, cursorHeaderSize+8)
		} else {
			s.setCursor(i, 0)
		}
	}
}

// Alloc bump-allocates n bytes from sub-heap subheap, returning its absolute
// address inside the fixed mapping, or an error if the sub-heap is exhausted.
// The cursor lives in the mapping itself (see cursorHeaderSize), so this is
// safe to call from every process sharing the segment: a CAS loop resolves
// the race between concurrent allocators instead of assuming a single
// owner.
func (s *Segment) Alloc(subheap int, n uintptr) (uintptr, error) {
	if subheap < 0 || subheap >= NumSubheaps {
		return 0, fmt.Errorf("heap: sub-heap index %d out of range", subheap)
	}

	subheapSize := s.size / NumSubheaps
	aligned := (n + 15) &^ 15

	for {
		cursor := s.cursor(subheap)
		if cursor+aligned > subheapSize {
			return 0, fmt.Errorf("heap: sub-heap %d exhausted (requested %d, %d remaining)",
				subheap, n, subheapSize-cursor)
		}

		if s.casCursor(subheap, cursor, cursor+aligned) {
			return s.addr + uintptr(subheap)*subheapSize + cursor, nil
		}
	}
}

// Close unmaps the segment from this process.
func (s *Segment) Close() error {
	if err := rawMunmap(s.addr, s.size); err != nil {
		return err
	}

	if s.fd >= 0 {
		return unix.Close(s.fd)
	}

	return nil
}

// Unlink removes the segment's backing name from the filesystem namespace.
// Only the process that created the segment (typically the committer at
// run end) should call it.
func (s *Segment) Unlink() error {
	if s.name == "" {
		return nil
	}

	return unix.Unlink(shmPath(s.name))
}

// Pid is a small convenience used when constructing segment names for the
// current process.
func Pid() int { return os.Getpid() }
