package host

import (
	"context"
	"io"
	"io/ioutil"
	"net/http"
	"os"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/logging"
	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/platform"
	"github.com/pkg/errors"
)

var _ platform.Flasher = (*Flasher)(nil)

// ErrNoUpdate is returned when the update server has nothing newer than the
// version sent along.
var ErrNoUpdate = errors.New("update server reported no update")

// Flasher stages images on disk, hands them to the installer and restarts
// the device once an image fetched by URL is installed.
type Flasher struct {
	log       logging.Logger
	client    *http.Client
	bin       command
	restarter platform.Restarter

	Installer  string
	StagingDir string
}

func NewFlasher(log logging.Logger, restarter platform.Restarter) *Flasher {
	return &Flasher{
		log:        log,
		client:     cleanhttp.DefaultClient(),
		bin:        &executable{},
		restarter:  restarter,
		Installer:  DefaultInstaller,
		StagingDir: DefaultStagingDir,
	}
}

func (f *Flasher) Flash(ctx context.Context, image platform.Image) error {
	log := f.log.WithField("image", image.URL())
	req, err := http.NewRequest(http.MethodGet, image.URL(), nil)
	if err != nil {
		return errors.Wrap(err, "invalid image location")
	}
	req = req.WithContext(ctx)
	if image.Version != "" {
		req.Header.Set(imageVersionHeader, image.Version)
	}

	log.Info("fetching image")
	resp, err := f.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "unable to fetch image")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotModified:
		return ErrNoUpdate
	default:
		return errors.Errorf("image request answered %s", resp.Status)
	}

	if err := f.install(ctx, resp.Body, resp.ContentLength); err != nil {
		return err
	}
	log.Warn("image installed, restarting")
	return f.restarter.Restart()
}

func (f *Flasher) FlashStream(ctx context.Context, r io.Reader, size int64) error {
	return f.install(ctx, r, size)
}

// install writes the image to the staging dir and runs the installer on it.
// A negative size reads r to its end.
func (f *Flasher) install(ctx context.Context, r io.Reader, size int64) error {
	if err := os.MkdirAll(f.StagingDir, 0750); err != nil {
		return errors.Wrap(err, "unable to create staging dir")
	}
	staged, err := ioutil.TempFile(f.StagingDir, "image-")
	if err != nil {
		return errors.Wrap(err, "unable to stage image")
	}
	defer os.Remove(staged.Name())

	var n int64
	if size >= 0 {
		n, err = io.CopyN(staged, r, size)
	} else {
		n, err = io.Copy(staged, r)
	}
	if cerr := staged.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return errors.Wrapf(err, "image truncated after %d bytes", n)
	}
	if n == 0 {
		return errors.New("empty image")
	}

	f.log.WithField("bytes", n).Debug("installing staged image")
	_, err = f.bin.Run(ctx, f.Installer, staged.Name())
	return errors.WithMessage(err, "installer failed")
}
