package workers

import (
	"fmt"
	"log"
	"sync"

	"github.com/disintegration/imaging"

	"github.com/calebmc/geosnap/database"
	"github.com/calebmc/geosnap/media"
)

// ThumbnailJob is one stored image awaiting thumbnail generation.
type ThumbnailJob struct {
	ImageID     string
	StoragePath string
}

// ThumbnailProcessor generates thumbnails for cloud-stored images in the
// background so uploads never wait on resizing.
type ThumbnailProcessor struct {
	JobQueue  chan ThumbnailJob
	Repo      *database.Repository
	Store     media.Store
	Processor *media.Processor
	MaxSize   int
	Wg        sync.WaitGroup
	StopChan  chan struct{}
	Pending   map[string]bool
	Mutex     sync.Mutex
}

func NewThumbnailProcessor(repo *database.Repository, store media.Store, processor *media.Processor, maxSize, queueSize, numWorkers int) *ThumbnailProcessor {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	proc := &ThumbnailProcessor{
		JobQueue:  make(chan ThumbnailJob, queueSize),
		Repo:      repo,
		Store:     store,
		Processor: processor,
		MaxSize:   maxSize,
		StopChan:  make(chan struct{}),
		Pending:   make(map[string]bool),
	}
	proc.Wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go proc.worker(i)
	}
	log.Printf("Started %d thumbnail worker(s) with queue size %d", numWorkers, queueSize)
	return proc
}

func (tp *ThumbnailProcessor) worker(id int) {
	defer tp.Wg.Done()

	log.Printf("Thumbnail worker %d started", id)
	for {
		select {
		case job, ok := <-tp.JobQueue:
			if !ok {
				log.Printf("Thumbnail worker %d stopping: Job queue closed", id)
				return
			}

			log.Printf("Worker %d: Received thumbnail job for: %s", id, job.ImageID)
			err := tp.Repo.MarkStoredImageThumbnailProcessing(job.ImageID)
			if err != nil {
				log.Printf("Worker %d: ERROR marking thumbnail processing for %s: %v. Skipping job.", id, job.ImageID, err)
				tp.clearPending(job.ImageID)
				continue
			}

			tp.processThumbnailTask(job)
			tp.clearPending(job.ImageID)

		case <-tp.StopChan:
			log.Printf("Thumbnail worker %d stopping: Stop signal received", id)
			return
		}
	}
}

func (tp *ThumbnailProcessor) clearPending(imageID string) {
	tp.Mutex.Lock()
	delete(tp.Pending, imageID)
	tp.Mutex.Unlock()
}

// processThumbnailTask generates the thumbnail and records the outcome
func (tp *ThumbnailProcessor) processThumbnailTask(job ThumbnailJob) {
	var taskErr error
	var thumbPathPtr *string

	reader, _, err := tp.Store.Get(job.StoragePath)
	if err != nil {
		taskErr = fmt.Errorf("failed to open stored image: %w", err)
		log.Printf("Worker: ERROR opening stored image for %s: %v", job.ImageID, taskErr)
	} else {
		img, decodeErr := imaging.Decode(reader)
		reader.Close()
		if decodeErr != nil {
			taskErr = fmt.Errorf("failed to decode stored image: %w", decodeErr)
			log.Printf("Worker: ERROR decoding stored image for %s: %v", job.ImageID, taskErr)
		} else {
			thumbPath, genErr := tp.Processor.GenerateThumbnail(img, tp.MaxSize)
			if genErr != nil {
				taskErr = fmt.Errorf("thumbnail generation failed: %w", genErr)
				log.Printf("Worker: ERROR %v", taskErr)
			} else {
				thumbPathPtr = &thumbPath
				log.Printf("Worker: Generated thumbnail for %s", job.ImageID)
			}
		}
	}

	dbErr := tp.Repo.UpdateStoredImageThumbnailResult(job.ImageID, thumbPathPtr, taskErr)
	if dbErr != nil {
		log.Printf("Worker: ERROR updating thumbnail result for %s: %v", job.ImageID, dbErr)
	}
}

// QueueJob queues a thumbnail task if not already pending
func (tp *ThumbnailProcessor) QueueJob(job ThumbnailJob) bool {
	tp.Mutex.Lock()
	if tp.Pending[job.ImageID] {
		tp.Mutex.Unlock()
		return false
	}
	tp.Pending[job.ImageID] = true
	tp.Mutex.Unlock()

	select {
	case tp.JobQueue <- job:
		log.Printf("Queued thumbnail task for: %s", job.ImageID)
		return true
	default:
		log.Printf("WARNING: Thumbnail job queue full. Failed to queue task for: %s", job.ImageID)
		tp.clearPending(job.ImageID)
		return false
	}
}

func (tp *ThumbnailProcessor) Stop() {
	log.Println("Stopping thumbnail workers...")
	close(tp.StopChan)
	tp.Wg.Wait()
	log.Println("All thumbnail workers stopped")
}
