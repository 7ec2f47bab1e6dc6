package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/inhies/go-bytesize"
	"github.com/mdsohelmia/xtension-dl/pkg/logging"
	"github.com/schollz/progressbar/v3"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/stoewer/go-strcase"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	ErrEmptyURL          = errors.New("url is empty")
	ErrFileExists        = errors.New("file already exists")
	ErrInsufficientSpace = errors.New("insufficient disk space")
	ErrSizeMismatch      = errors.New("downloaded size does not match")
)

// Downloader is the main struct
type Downloader struct {
	originUrl      string
	filename       string
	rootPath       string
	header         map[string]string
	copyBufferSize int
	client         *http.Client
	url            string
	//file size in bytes, -1 when unknown
	size int64
	//is resumable
	resumable bool
	// ETag or Last-Modified of the probed resource
	validator string
	// concurrent downloads
	concurrency    int
	overwrite      bool
	bar            *progressbar.ProgressBar
	Hook           Hook
	showProgress   bool
	progressWriter io.Writer
	logger         *zap.Logger
}

// NewDownloader creates a new Downloader for config.Url and probes it
// for size, range support and filename.
// The concurrency parameter specifies the number of threads
func NewDownloader(ctx context.Context, config *Config) (*Downloader, error) {
	if config.Concurrency == 0 {
		config.Concurrency = runtime.NumCPU()
	}
	if config.RootPath == "" {
		config.RootPath = DefaultRootPath
	}

	if config.CopyBufferSize == 0 {
		config.CopyBufferSize = DefaultCopyBufferSize
	}
	if config.RetryMax == 0 {
		config.RetryMax = DefaultRetryMax
	}
	if config.RetryMax < 0 {
		config.RetryMax = 0
	}

	retryablehttpClient := retryablehttp.NewClient()
	if config.HTTPClient != nil {
		retryablehttpClient.HTTPClient = config.HTTPClient
	}
	retryablehttpClient.RetryMax = config.RetryMax
	if config.RetryWaitMax > 0 {
		retryablehttpClient.RetryWaitMax = config.RetryWaitMax
	}
	if config.RetryWaitMin > 0 {
		retryablehttpClient.RetryWaitMin = config.RetryWaitMin
	}
	retryablehttpClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	logger := logging.OrNop(config.Logger).Named("downloader")
	if config.Debug {
		retryablehttpClient.Logger = logging.RetryLogger(logger)
	} else {
		retryablehttpClient.Logger = nil
	}

	d := &Downloader{
		client:         retryablehttpClient.StandardClient(),
		url:            config.Url,
		filename:       config.Filename,
		header:         config.Header,
		concurrency:    config.Concurrency,
		rootPath:       config.RootPath,
		copyBufferSize: config.CopyBufferSize,
		overwrite:      config.Overwrite,
		showProgress:   config.ShowProgress,
		progressWriter: config.ProgressWriter,
		size:           -1,
		logger:         logger,
	}

	// fetch the metadata
	if err := d.fetchMetadata(ctx); err != nil {
		return nil, err
	}

	return d, nil
}

func (d *Downloader) checkFileExist() bool {
	_, err := os.Stat(d.GetPath())
	return err == nil
}

func (d *Downloader) ensureRootPath() error {
	return os.MkdirAll(d.rootPath, 0o755)
}

func (d *Downloader) fetchMetadata(ctx context.Context) error {
	request, err := d.makeRequest(ctx, http.MethodHead)
	if err != nil {
		return err
	}
	// Make a Head request to the URL to get the file size
	resp, err := d.do(request)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	d.originUrl = resp.Request.URL.String()

	// Signed URLs are often valid for GET only; fall back to a plain stream.
	if resp.StatusCode != http.StatusOK {
		d.logger.Debug("metadata probe refused, streaming instead",
			zap.Int("status", resp.StatusCode))
		d.detectFilename(resp.Request.URL)
		return nil
	}

	if resp.Header.Get("Accept-Ranges") == "bytes" && resp.ContentLength > 0 {
		d.resumable = true
	}

	d.size = resp.ContentLength
	d.validator = resp.Header.Get("ETag")
	if d.validator == "" {
		d.validator = resp.Header.Get("Last-Modified")
	}
	d.detectFilename(resp.Request.URL)
	return nil
}

// detectFilename derives the filename from the final URL unless one was configured.
func (d *Downloader) detectFilename(u *url.URL) {
	if d.filename != "" {
		return
	}
	d.filename = FilenameFromURL(u)
}

// FilenameFromURL snake-cases the last path segment of u, keeping its extension.
func FilenameFromURL(u *url.URL) string {
	segment := path.Base(u.Path)
	if unescaped, err := url.PathUnescape(segment); err == nil {
		segment = unescaped
	}
	if segment == "" || segment == "/" || segment == "." {
		return "download"
	}
	ext := path.Ext(segment)
	name := strcase.SnakeCase(strings.TrimSuffix(segment, ext))
	if name == "" {
		name = "download"
	}
	return name + strings.ToLower(ext)
}

// Download fetches the file into the root path.
func (d *Downloader) Download(ctx context.Context) error {
	d.logger.Debug("starting download",
		zap.String("filename", d.filename),
		zap.Int("concurrency", d.concurrency),
		zap.Bool("resumable", d.resumable))

	// ensure the root path exists or create it.
	if err := d.ensureRootPath(); err != nil {
		return err
	}

	if d.checkFileExist() && !d.overwrite {
		return fmt.Errorf("%w: %s", ErrFileExists, d.GetPath())
	}

	if err := d.checkDiskSpace(ctx); err != nil {
		return err
	}

	if d.resumable && d.concurrency > 1 {
		return d.multiDownload(ctx)
	}

	return d.simpleDownload(ctx)
}

func (d *Downloader) checkDiskSpace(ctx context.Context) error {
	if d.size <= 0 {
		return nil
	}
	usage, err := disk.UsageWithContext(ctx, d.rootPath)
	if err != nil {
		d.logger.Warn("could not read disk usage", zap.String("path", d.rootPath), zap.Error(err))
		return nil
	}
	if usage.Free < uint64(d.size) {
		return fmt.Errorf("%w: need %s, have %s", ErrInsufficientSpace,
			bytesize.New(float64(d.size)), bytesize.New(float64(usage.Free)))
	}
	return nil
}

func (d *Downloader) makeRequest(ctx context.Context, method string) (*http.Request, error) {
	if d.url == "" {
		return nil, ErrEmptyURL
	}
	req, err := http.NewRequestWithContext(ctx, method, d.url, nil)
	if err != nil {
		return nil, err
	}

	for k, v := range d.header {
		req.Header.Add(k, v)
	}
	return req, nil
}

func (d *Downloader) makeRequestWithRange(ctx context.Context, start, end int64) (*http.Request, error) {
	req, err := d.makeRequest(ctx, http.MethodGet)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))
	return req, nil
}

func (d *Downloader) do(req *http.Request) (*http.Response, error) {
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (d *Downloader) newBar() *progressbar.ProgressBar {
	if !d.showProgress {
		return progressbar.DefaultBytesSilent(d.size, "Downloading...")
	}
	if d.progressWriter == nil {
		return progressbar.DefaultBytes(d.size, "Downloading...")
	}
	return progressbar.NewOptions64(d.size,
		progressbar.OptionSetWriter(d.progressWriter),
		progressbar.OptionSetDescription("Downloading..."),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(10),
		progressbar.OptionShowCount(),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionFullWidth(),
	)
}

// partRange returns the inclusive byte range of part i.
func (d *Downloader) partRange(i int) (int64, int64) {
	partSize := d.size / int64(d.concurrency)
	start := int64(i) * partSize
	end := start + partSize - 1
	if i == d.concurrency-1 {
		end = d.size - 1
	}
	return start, end
}

func (d *Downloader) multiDownload(ctx context.Context) error {
	if int64(d.concurrency) > d.size {
		d.concurrency = int(d.size)
	}
	if err := d.checkPartState(); err != nil {
		return err
	}

	d.bar = d.newBar()

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < d.concurrency; i++ {
		part := i
		g.Go(func() error {
			start, end := d.partRange(part)
			done, err := d.resumePart(part, end-start+1)
			if err != nil {
				return err
			}
			d.bar.Add64(done)
			return d.partialDownload(ctx, start+done, end, part)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	if err := d.merge(); err != nil {
		return err
	}
	return d.verifySize()
}

// checkPartState drops leftover parts that belong to a different version of
// the resource, then records the current validator next to the parts.
func (d *Downloader) checkPartState() error {
	statePath := filepath.Join(d.rootPath, d.filename+".parts")
	state := fmt.Sprintf("%d %s", d.size, d.validator)

	prev, err := os.ReadFile(statePath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err == nil && string(prev) != state {
		d.logger.Debug("remote file changed, discarding parts", zap.String("was", string(prev)))
		if err := d.discardParts(); err != nil {
			return err
		}
	}
	return os.WriteFile(statePath, []byte(state), 0o644)
}

// resumePart returns how many bytes of part are already on disk. A part
// longer than its range is stale and is removed.
func (d *Downloader) resumePart(part int, length int64) (int64, error) {
	done, err := d.partSize(part)
	if err != nil {
		return 0, err
	}
	if done > length {
		d.logger.Debug("discarding oversized part",
			zap.Int("part", part),
			zap.Int64("have", done),
			zap.Int64("want", length))
		if err := os.Remove(filepath.Join(d.rootPath, d.getPartFilename(part))); err != nil {
			return 0, err
		}
		return 0, nil
	}
	return done, nil
}

func (d *Downloader) verifySize() error {
	stat, err := os.Stat(d.GetPath())
	if err != nil {
		return err
	}
	if stat.Size() != d.size {
		os.Remove(d.GetPath())
		return fmt.Errorf("%w: got %s, want %s", ErrSizeMismatch,
			bytesize.New(float64(stat.Size())), bytesize.New(float64(d.size)))
	}
	return nil
}

func (d *Downloader) removeParts(n int) {
	for i := 0; i < n; i++ {
		os.Remove(filepath.Join(d.rootPath, d.getPartFilename(i)))
	}
}

// discardParts removes every part file of d.filename, including parts left
// by a run with a different concurrency.
func (d *Downloader) discardParts() error {
	entries, err := os.ReadDir(d.rootPath)
	if err != nil {
		return err
	}
	prefix := d.filename + ".part"
	for _, e := range entries {
		suffix, ok := strings.CutPrefix(e.Name(), prefix)
		if !ok || e.IsDir() {
			continue
		}
		if _, err := strconv.Atoi(suffix); err != nil {
			continue
		}
		if err := os.Remove(filepath.Join(d.rootPath, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func (d *Downloader) partSize(partNumber int) (int64, error) {
	stat, err := os.Stat(filepath.Join(d.rootPath, d.getPartFilename(partNumber)))
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return stat.Size(), nil
}

func (d *Downloader) partialDownload(ctx context.Context, start, end int64, partNumber int) error {
	if start > end {
		return nil
	}

	d.logger.Debug("downloading part",
		zap.Int("part", partNumber),
		zap.Int64("start", start),
		zap.Int64("end", end))

	request, err := d.makeRequestWithRange(ctx, start, end)
	if err != nil {
		return err
	}

	resp, err := d.do(request)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent {
		return fmt.Errorf("part %d: unexpected status code: %d", partNumber, resp.StatusCode)
	}

	outputPath := filepath.Join(d.rootPath, d.getPartFilename(partNumber))
	f, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := d.copyChunks(ctx, f, resp); err != nil {
		return fmt.Errorf("part %d: %w", partNumber, err)
	}
	return nil
}

// copyChunks copies resp.Body into w in copyBufferSize chunks, checking
// ctx and the hook between chunks.
func (d *Downloader) copyChunks(ctx context.Context, w io.Writer, resp *http.Response) error {
	out := io.MultiWriter(w, d.bar)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, err := io.CopyN(out, resp.Body, int64(d.copyBufferSize))
		if err != nil && err != io.EOF {
			return err
		}
		if d.Hook != nil {
			if hookErr := d.Hook(resp, d.bar, err); hookErr != nil {
				return hookErr
			}
		}
		if err == io.EOF {
			return nil
		}
	}
}

func (d *Downloader) simpleDownload(ctx context.Context) error {
	request, err := d.makeRequest(ctx, http.MethodGet)
	if err != nil {
		return err
	}

	resp, err := d.do(request)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	if d.size < 0 && resp.ContentLength >= 0 {
		d.size = resp.ContentLength
	}

	tmpPath := d.GetPath() + ".download"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	d.bar = d.newBar()

	if err := d.copyChunks(ctx, f, resp); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	return os.Rename(tmpPath, d.GetPath())
}

func (d *Downloader) getPartFilename(partNum int) string {
	return d.filename + ".part" + strconv.Itoa(partNum)
}

func (d *Downloader) merge() error {
	// Create the output file
	destination, err := os.OpenFile(d.GetPath(), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer destination.Close()

	// Open each part file and copy to the destination file
	for i := 0; i < d.concurrency; i++ {
		partPath := filepath.Join(d.rootPath, d.getPartFilename(i))
		if err := appendFile(destination, partPath); err != nil {
			return err
		}
	}
	d.removeParts(d.concurrency)
	os.Remove(filepath.Join(d.rootPath, d.filename+".parts"))

	return destination.Sync()
}

func appendFile(dst io.Writer, partPath string) error {
	part, err := os.Open(partPath)
	if err != nil {
		return err
	}
	defer part.Close()
	_, err = io.Copy(dst, part)
	return err
}

func (d *Downloader) GetFileSize() int64 {
	return d.size
}

func (d *Downloader) GetFilename() string {
	return d.filename
}

func (d *Downloader) GetUrl() string {
	return d.url
}

func (d *Downloader) IsResumable() bool {
	return d.resumable
}

func (d *Downloader) SetHeader(header map[string]string) {
	d.header = header
}

func (d *Downloader) GetPath() string {
	return filepath.Join(d.rootPath, d.filename)
}

func (d *Downloader) SetHook(hook Hook) {
	d.Hook = hook
}

func (d *Downloader) GetOriginUrl() string {
	return d.originUrl
}
