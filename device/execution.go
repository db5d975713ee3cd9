package device

import (
	"runtime"
	"sync"
)

// launchInternal fans a grid of blocks out over a bounded set of
// workers. Threads within a block run sequentially on one worker to
// maximize cache reuse; blocks are divided contiguously so tile
// traversal order set by the kernel's scheduler is preserved within
// each worker's range.
func (ctx *Context) launchInternal(fn KernelFunc, grid, block Dim3, stream *Stream) error {
	gridSize := grid.Size()
	blockSize := block.Size()

	if gridSize == 0 {
		// Keep stream ordering even for empty launches.
		stream.Submit(func() {})
		return nil
	}

	numWorkers := runtime.NumCPU()
	if ctx.device.SMCount > 0 && ctx.device.SMCount < numWorkers {
		numWorkers = ctx.device.SMCount
	}
	if gridSize < numWorkers {
		numWorkers = gridSize
	}
	blocksPerWorker := (gridSize + numWorkers - 1) / numWorkers

	stream.Submit(func() {
		var wg sync.WaitGroup
		wg.Add(numWorkers)

		for workerID := 0; workerID < numWorkers; workerID++ {
			startBlock := workerID * blocksPerWorker
			endBlock := startBlock + blocksPerWorker
			if endBlock > gridSize {
				endBlock = gridSize
			}

			go func(start, end int) {
				defer wg.Done()
				for blockID := start; blockID < end; blockID++ {
					blockIdx := linearTo3D(blockID, grid)
					for threadID := 0; threadID < blockSize; threadID++ {
						tid := ThreadID{
							BlockIdx:  blockIdx,
							ThreadIdx: linearTo3D(threadID, block),
							BlockDim:  block,
							GridDim:   grid,
						}
						fn(tid)
					}
				}
			}(startBlock, endBlock)
		}

		wg.Wait()
	})

	return nil
}

// linearTo3D converts a linear index to 3D coordinates.
func linearTo3D(linear int, dim Dim3) Dim3 {
	z := linear / (dim.X * dim.Y)
	y := (linear % (dim.X * dim.Y)) / dim.X
	x := linear % dim.X
	return Dim3{X: x, Y: y, Z: z}
}
