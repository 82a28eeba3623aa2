package ipsw

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/looplab/fsm"
	"github.com/pkg/errors"

	"lilithos/internal/convert"
	"lilithos/internal/task"
)

// TaskNameDownload is the name about download task.
const TaskNameDownload = "ipsw-download"

const downloadBlockSize = 32 * 1024

// downloadTask implements task.Interface, it downloads one IPSW with
// resume support and checksum verification. It can pause in progress
// and report progress and detail information.
type downloadTask struct {
	client *http.Client
	fw     *Firmware
	path   string // destination file path

	resumeFrom uint64
	complete   bool // local file already verified in Prepare

	// about progress and detail
	received uint64
	total    uint64
	rwm      sync.RWMutex
}

// NewDownloadTask is used to create a download task that implements
// task.Interface, ctx can cancel task.
func NewDownloadTask(
	ctx context.Context,
	client *http.Client,
	fw *Firmware,
	dir string,
	callbacks fsm.Callbacks,
) *task.Task {
	dt := downloadTask{
		client: client,
		fw:     fw,
		path:   filepath.Join(dir, fw.Filename()),
	}
	return task.New(ctx, TaskNameDownload, &dt, callbacks)
}

// Path is used to get the destination path for fw inside dir.
func Path(dir string, fw *Firmware) string {
	return filepath.Join(dir, fw.Filename())
}

func (dt *downloadTask) Prepare(context.Context) error {
	err := os.MkdirAll(filepath.Dir(dt.path), 0750)
	if err != nil {
		return errors.Wrap(err, "failed to create download directory")
	}
	stat, err := os.Stat(dt.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "failed to get restore file stat")
	}
	// a file with a matching checksum needs no download at all,
	// otherwise continue from its current size
	if dt.fw.SHA256 != "" {
		err = VerifySHA256(dt.path, dt.fw.SHA256)
		if err == nil {
			dt.complete = true
			return nil
		}
	}
	dt.resumeFrom = uint64(stat.Size())
	return nil
}

func (dt *downloadTask) Process(ctx context.Context, task *task.Task) error {
	if dt.complete {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, dt.fw.URL, nil)
	if err != nil {
		return errors.Wrap(err, "failed to create download request")
	}
	if dt.resumeFrom > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", dt.resumeFrom))
	}
	resp, err := dt.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "failed to request restore file")
	}
	defer func() { _ = resp.Body.Close() }()
	// a chunked response carries no length, zero total means unknown
	var length uint64
	if resp.ContentLength >= 0 {
		length = uint64(resp.ContentLength)
	}
	var flag int
	switch resp.StatusCode {
	case http.StatusPartialContent:
		flag = os.O_WRONLY | os.O_APPEND
		if length > 0 {
			length += dt.resumeFrom
		}
		dt.updateProgress(dt.resumeFrom, length)
	case http.StatusOK:
		// server ignored the range header, restart cleanly
		flag = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
		dt.updateProgress(0, length)
	default:
		return errors.Errorf("unexpected status: %s", resp.Status)
	}
	file, err := os.OpenFile(dt.path, flag|os.O_CREATE, 0640) // #nosec
	if err != nil {
		return errors.Wrap(err, "failed to open restore file")
	}
	defer func() { _ = file.Close() }()
	err = dt.copyLoop(task, file, resp.Body)
	if err != nil {
		return err
	}
	if dt.fw.SHA256 != "" {
		return VerifySHA256(dt.path, dt.fw.SHA256)
	}
	return nil
}

func (dt *downloadTask) copyLoop(task *task.Task, dst io.Writer, src io.Reader) error {
	buf := make([]byte, downloadBlockSize)
	for {
		if task.Canceled() {
			return errors.New("download canceled")
		}
		n, err := src.Read(buf)
		if n > 0 {
			_, we := dst.Write(buf[:n])
			if we != nil {
				return errors.Wrap(we, "failed to write restore file")
			}
			dt.addReceived(uint64(n))
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return errors.Wrap(err, "failed to read response body")
		}
	}
}

func (dt *downloadTask) updateProgress(received, total uint64) {
	dt.rwm.Lock()
	defer dt.rwm.Unlock()
	dt.received = received
	dt.total = total
}

func (dt *downloadTask) addReceived(delta uint64) {
	dt.rwm.Lock()
	defer dt.rwm.Unlock()
	dt.received += delta
}

// Progress is used to get percent like "19.99%".
func (dt *downloadTask) Progress() string {
	dt.rwm.RLock()
	defer dt.rwm.RUnlock()
	if dt.complete {
		return "100%"
	}
	if dt.total == 0 {
		return "unknown"
	}
	value := float64(dt.received) / float64(dt.total)
	// 0.9999 -> 99.99%
	str := fmt.Sprintf("%.2f", value*100)
	return str + "%"
}

func (dt *downloadTask) Detail() string {
	dt.rwm.RLock()
	defer dt.rwm.RUnlock()
	if dt.total == 0 {
		return fmt.Sprintf("downloaded %s / unknown", convert.FormatByte(dt.received))
	}
	return fmt.Sprintf("downloaded %s / %s",
		convert.FormatByte(dt.received), convert.FormatByte(dt.total))
}

func (dt *downloadTask) Clean() {}

// VerifySHA256 is used to compare the file checksum with expected,
// expected is a hex string.
func VerifySHA256(path, expected string) error {
	file, err := os.Open(path) // #nosec
	if err != nil {
		return errors.Wrap(err, "failed to open file for checksum")
	}
	defer func() { _ = file.Close() }()
	hash := sha256.New()
	_, err = io.Copy(hash, file)
	if err != nil {
		return errors.Wrap(err, "failed to hash file")
	}
	sum := hex.EncodeToString(hash.Sum(nil))
	if sum != expected {
		return errors.Errorf("checksum mismatch: expect %s but got %s", expected, sum)
	}
	return nil
}
