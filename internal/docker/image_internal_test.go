package docker

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/errdefs"
	"gotest.tools/v3/assert"
)

var errImageNotFound = errors.New("no such image")

func (m *mockClient) ImageInspectWithRaw(ctx context.Context, imageID string) (types.ImageInspect, []byte, error) {
	if m.fails("ImageInspectWithRaw") {
		return types.ImageInspect{}, nil, errInjectedFailure
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.images[imageID]; !ok {
		return types.ImageInspect{}, nil, errdefs.NotFound(errImageNotFound)
	}

	return types.ImageInspect{ID: imageID}, nil, nil
}

func (m *mockClient) ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error) {
	if m.fails("ImagePull") {
		return nil, errInjectedFailure
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.pulled = append(m.pulled, refStr)
	m.images[refStr] = struct{}{}

	if refStr == "broken-stream" {
		return io.NopCloser(&errorReader{}), nil
	}

	return io.NopCloser(strings.NewReader(`{"status": "Pulling from jenkins/jenkinsfile-runner"}`)), nil
}

func TestImageExists(t *testing.T) {
	t.Parallel()
	client := newMockClient()
	defer client.Close()

	exists, err := client.ImageExists(context.Background(), "local")
	assert.NilError(t, err)
	assert.Check(t, exists)

	exists, err = client.ImageExists(context.Background(), "remote")
	assert.NilError(t, err)
	assert.Check(t, !exists)
}

func TestImageExistsErr(t *testing.T) {
	t.Parallel()
	client := newMockClient("ImageInspectWithRaw")
	defer client.Close()

	_, err := client.ImageExists(context.Background(), "local")
	assert.ErrorIs(t, err, errInjectedFailure)
}

func TestPullImage(t *testing.T) {
	t.Parallel()
	mock := newMock()
	client := &Client{client: mock}
	defer client.Close()

	assert.NilError(t, client.PullImage(context.Background(), "jenkins/jenkinsfile-runner"))
	assert.DeepEqual(t, mock.pulled, []string{"jenkins/jenkinsfile-runner"})

	err := client.PullImage(context.Background(), "broken-stream")
	assert.ErrorContains(t, err, "failed to read Docker image pull logs")
}

func TestPullImageErr(t *testing.T) {
	t.Parallel()
	client := newMockClient("ImagePull")
	defer client.Close()

	err := client.PullImage(context.Background(), "jenkins/jenkinsfile-runner")
	assert.ErrorIs(t, err, errInjectedFailure)
}

func TestEnsureImage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		spec   func(dir string) ImageSpec
		pulled []string
		built  []string
	}{
		{
			name:   "local image is reused",
			spec:   func(string) ImageSpec { return ImageSpec{Name: "local"} },
			pulled: nil,
			built:  nil,
		},
		{
			name:   "missing image without context is pulled",
			spec:   func(string) ImageSpec { return ImageSpec{Name: "remote"} },
			pulled: []string{"remote"},
			built:  nil,
		},
		{
			name:   "missing image with context is built",
			spec:   func(dir string) ImageSpec { return ImageSpec{Name: "iorunner", Context: dir} },
			pulled: nil,
			built:  []string{"iorunner"},
		},
		{
			name: "rebuild ignores local image",
			spec: func(dir string) ImageSpec {
				return ImageSpec{Name: "local", Context: dir, Rebuild: true}
			},
			pulled: nil,
			built:  []string{"local"},
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			mock := newMock()
			client := &Client{client: mock}

			assert.NilError(t, client.EnsureImage(context.Background(), test.spec(t.TempDir())))
			assert.DeepEqual(t, mock.pulled, test.pulled)
			assert.DeepEqual(t, mock.built, test.built)
		})
	}
}

func TestEnsureImageWithoutName(t *testing.T) {
	t.Parallel()
	client := newMockClient()

	err := client.EnsureImage(context.Background(), ImageSpec{})
	assert.ErrorContains(t, err, "no image name")
}
