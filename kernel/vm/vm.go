// Package vm stands in for the address-space glue the spec names as an
// external collaborator and declares out of scope: physical page
// allocation, page-table walking, and the trap-frame/kernel-stack pages a
// real process needs (spec.md §1, §3 "address space"/"trap frame"/"kernel
// stack"). It provides a small in-memory simulator behind the same named
// operations (map_pages, unmap, copy, copy_shared, free, walk_addr) so the
// process-management core in kernel/proc can be exercised and tested
// without a real MMU.
package vm

import (
	"errors"
	"sync"
	"sync/atomic"
)

// PageSize matches xv6's RISC-V page size; only used for sbrk/size bookkeeping.
const PageSize = 4096

var (
	ErrOutOfMemory  = errors.New("vm: out of physical frames")
	ErrNotMapped    = errors.New("vm: address not mapped")
	ErrShrinkBelowZero = errors.New("vm: shrink below zero size")
)

// Frame is one simulated physical page, refcounted so MAP_SHARED regions
// and fork's copy_shared can share backing storage safely.
type Frame struct {
	mu   sync.Mutex
	refs int
	data [PageSize]byte
}

func (f *Frame) ref() {
	f.mu.Lock()
	f.refs++
	f.mu.Unlock()
}

// unref drops a reference and reports whether it reached zero.
func (f *Frame) unref() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refs--
	return f.refs <= 0
}

// FrameAllocator is the physical page allocator collaborator (kalloc/kfree
// in xv6); it exists so kernel/syscall can answer the freepmem diagnostic
// syscall (spec.md §6) with a real count instead of a stub.
type FrameAllocator struct {
	mu    sync.Mutex
	total int
	used  int
}

// NewFrameAllocator builds a pool of total simulated physical frames.
func NewFrameAllocator(total int) *FrameAllocator {
	return &FrameAllocator{total: total}
}

// Alloc returns a zeroed frame with one reference, or ErrOutOfMemory.
func (fa *FrameAllocator) Alloc() (*Frame, error) {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	if fa.used >= fa.total {
		return nil, ErrOutOfMemory
	}
	fa.used++
	return &Frame{refs: 1}, nil
}

// Free drops the allocator's bookkeeping for one frame (the frame's own
// refcount already reached zero by the time this is called).
func (fa *FrameAllocator) Free() {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	if fa.used > 0 {
		fa.used--
	}
}

// FreeCount reports the number of frames not currently allocated.
func (fa *FrameAllocator) FreeCount() int {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	return fa.total - fa.used
}

// AddressSpace is the opaque per-process page-table handle (spec.md §3): a
// map from page-aligned virtual address to backing frame, plus the
// process's current heap size and highest usable address.
type AddressSpace struct {
	mu     sync.Mutex
	fa     *FrameAllocator
	pages  map[uintptr]*Frame
	size   uintptr
	curMax uintptr
}

// NewAddressSpace creates an empty address space backed by fa.
func NewAddressSpace(fa *FrameAllocator) *AddressSpace {
	return &AddressSpace{fa: fa, pages: make(map[uintptr]*Frame)}
}

// Size returns the address space's current size in bytes.
func (as *AddressSpace) Size() uintptr {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.size
}

// Grow implements sbrk(n): maps n more bytes (rounded up to pages) of fresh
// frames at the top of the heap and returns the prior size ("old break").
// A negative n shrinks and unmaps instead.
func (as *AddressSpace) Grow(n int) (oldSize uintptr, err error) {
	as.mu.Lock()
	defer as.mu.Unlock()
	oldSize = as.size
	if n == 0 {
		return
	}
	if n > 0 {
		pages := (uintptr(n) + PageSize - 1) / PageSize
		mapped := make([]uintptr, 0, pages)
		for i := uintptr(0); i < pages; i++ {
			f, ferr := as.fa.Alloc()
			if ferr != nil {
				for _, va := range mapped {
					fr := as.pages[va]
					delete(as.pages, va)
					if fr.unref() {
						as.fa.Free()
					}
				}
				return oldSize, ferr
			}
			va := as.size + i*PageSize
			as.pages[va] = f
			mapped = append(mapped, va)
		}
		as.size += uintptr(n)
		if as.size > as.curMax {
			as.curMax = as.size
		}
		return
	}
	shrink := uintptr(-n)
	if shrink > as.size {
		return oldSize, ErrShrinkBelowZero
	}
	newSize := as.size - shrink
	for va := range as.pages {
		if va >= newSize {
			f := as.pages[va]
			delete(as.pages, va)
			if f.unref() {
				as.fa.Free()
			}
		}
	}
	as.size = newSize
	return
}

// SetSize records an address space's reported size after Copy has already
// installed the cloned pages directly into its map (Copy only threads
// pages, not the size/curMax bookkeeping, since it is also used to clone a
// single MMR region rather than the whole heap).
func (as *AddressSpace) SetSize(size uintptr) {
	as.mu.Lock()
	defer as.mu.Unlock()
	as.size = size
	if size > as.curMax {
		as.curMax = size
	}
}

// WalkAddr returns the frame backing va, mirroring xv6's walkaddr.
func (as *AddressSpace) WalkAddr(va uintptr) (*Frame, error) {
	as.mu.Lock()
	defer as.mu.Unlock()
	f, ok := as.pages[pageAlign(va)]
	if !ok {
		return nil, ErrNotMapped
	}
	return f, nil
}

// UnmapRegion drops every mapping in [addr, addr+length) without touching
// the rest of the address space, dropping a frame reference (and returning
// it to the allocator once unreferenced) per page.
func (as *AddressSpace) UnmapRegion(addr, length uintptr) {
	as.mu.Lock()
	defer as.mu.Unlock()
	end := addr + length
	for va := pageAlign(addr); va < end; va += PageSize {
		if f, ok := as.pages[va]; ok {
			delete(as.pages, va)
			if f.unref() {
				as.fa.Free()
			}
		}
	}
}

// MapShared installs length bytes at addr all backed by shared (refcounted)
// frames freshly allocated from fa; used when a process first creates a
// MAP_SHARED region.
func (as *AddressSpace) MapShared(addr, length uintptr) error {
	as.mu.Lock()
	defer as.mu.Unlock()
	end := addr + length
	mapped := make([]uintptr, 0)
	for va := pageAlign(addr); va < end; va += PageSize {
		f, err := as.fa.Alloc()
		if err != nil {
			for _, v := range mapped {
				fr := as.pages[v]
				delete(as.pages, v)
				if fr.unref() {
					as.fa.Free()
				}
			}
			return err
		}
		as.pages[va] = f
		mapped = append(mapped, va)
	}
	return nil
}

// Free tears the whole address space down (xv6's proc_freepagetable),
// dropping a reference to every mapped frame.
func (as *AddressSpace) Free() {
	as.mu.Lock()
	defer as.mu.Unlock()
	for va, f := range as.pages {
		delete(as.pages, va)
		if f.unref() {
			as.fa.Free()
		}
	}
	as.size = 0
	as.curMax = 0
}

// Copy deep-copies every present page from src into a fresh mapping in dst
// at the same address (uvmcopy): used for MAP_PRIVATE regions and a
// process's general heap on fork, where parent and child must not observe
// each other's writes.
func Copy(src, dst *AddressSpace, addr, length uintptr) error {
	src.mu.Lock()
	defer src.mu.Unlock()
	dst.mu.Lock()
	defer dst.mu.Unlock()
	end := addr + length
	mapped := make([]uintptr, 0)
	for va := pageAlign(addr); va < end; va += PageSize {
		sf, ok := src.pages[va]
		if !ok {
			continue
		}
		df, err := dst.fa.Alloc()
		if err != nil {
			for _, v := range mapped {
				fr := dst.pages[v]
				delete(dst.pages, v)
				if fr.unref() {
					dst.fa.Free()
				}
			}
			return err
		}
		sf.mu.Lock()
		df.data = sf.data
		sf.mu.Unlock()
		dst.pages[va] = df
		mapped = append(mapped, va)
	}
	return nil
}

// CopyShared installs dst's mapping of [addr, addr+length) pointing at the
// exact same frames src uses, bumping each frame's refcount (uvmcopy_shared)
// — the backing storage for a MAP_SHARED region splice on fork.
func CopyShared(src, dst *AddressSpace, addr, length uintptr) error {
	src.mu.Lock()
	defer src.mu.Unlock()
	dst.mu.Lock()
	defer dst.mu.Unlock()
	end := addr + length
	for va := pageAlign(addr); va < end; va += PageSize {
		f, ok := src.pages[va]
		if !ok {
			continue
		}
		f.ref()
		dst.pages[va] = f
	}
	return nil
}

func pageAlign(va uintptr) uintptr { return va &^ (PageSize - 1) }

// TrapFrame is the kernel page used to save/restore user registers across a
// trap (spec.md §3); A0Reg is the RISC-V a0 register index xv6 uses to pass
// fork's return value into the child.
type TrapFrame struct {
	Regs [32]uint64
}

const A0Reg = 10

// NewTrapFrame allocates a fresh, zeroed trap frame.
func NewTrapFrame() (*TrapFrame, error) {
	return &TrapFrame{}, nil
}

// SetReturn writes v into the a0 slot, the convention a syscall (or fork's
// child branch) uses to hand back its result.
func (tf *TrapFrame) SetReturn(v uint64) { tf.Regs[A0Reg] = v }

// Context is the callee-saved register set the scheduler switch preserves
// across sched()/swtch(); this simulation switches via goroutine handoff
// (see kernel/proc), so Context only exists to satisfy the spec's data
// model and to carry the resume point's debug name.
type Context struct {
	ResumeAt string
}

// KernelStack is the high-memory-mapped page with a guard page below it
// that xv6 maps for every process; it is opaque here since nothing above
// kernel/vm ever dereferences it.
type KernelStack struct {
	base uintptr
}

var nextKStackBase atomic.Uintptr

func init() {
	nextKStackBase.Store(0x1000000)
}

// NewKernelStack hands out a fresh simulated stack base. AllocProc may be
// called concurrently from more than one CPU's goroutine, so the bump
// allocator here is atomic rather than a plain package variable.
func NewKernelStack() *KernelStack {
	base := nextKStackBase.Add(2 * PageSize)
	return &KernelStack{base: base - 2*PageSize}
}

// File is the opaque per-descriptor handle the filesystem layer (out of
// scope per spec.md §1) would provide; ofile[] just needs reference
// counting for dup-on-fork and close-on-exit.
type File interface {
	Dup() File
	Close() error
}

// Inode is the opaque working-directory handle (filesystem, out of scope).
type Inode interface{}
