// Package docker manages local containers, images, networks and volumes
// through the Docker Engine API.
package docker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/go-connections/nat"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/terrane-io/terrane/internal/provider"
)

const (
	TypeContainer = "docker_container"
	TypeImage     = "docker_image"
	TypeNetwork   = "docker_network"
	TypeVolume    = "docker_volume"
)

type Provider struct {
	client *client.Client
}

func New() *Provider {
	return &Provider{}
}

func init() {
	provider.RegisterFactory("docker", func() provider.Interface { return New() })
}

func (p *Provider) Configure(ctx context.Context) error {
	if p.client != nil {
		return nil
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return fmt.Errorf("failed to create Docker client: %w", err)
	}
	p.client = cli
	return nil
}

func (p *Provider) Schema() provider.Schema {
	return provider.Schema{
		TypeContainer: {
			Attributes: map[string]provider.Attribute{
				"name":    {ForceNew: true},
				"image":   {ForceNew: true},
				"env":     {ForceNew: true},
				"ports":   {ForceNew: true},
				"command": {ForceNew: true},
			},
		},
		TypeImage: {
			Attributes: map[string]provider.Attribute{
				"name":         {ForceNew: true},
				"buildContext": {ForceNew: true},
				"dockerfile":   {ForceNew: true},
			},
		},
		TypeNetwork: {
			Attributes: map[string]provider.Attribute{
				"name":     {ForceNew: true},
				"driver":   {ForceNew: true},
				"internal": {ForceNew: true},
			},
		},
		TypeVolume: {
			Attributes: map[string]provider.Attribute{
				"name":   {ForceNew: true},
				"driver": {ForceNew: true},
			},
		},
	}
}

type containerConfig struct {
	Name    string            `json:"name"`
	Image   string            `json:"image"`
	Command []string          `json:"command"`
	Env     map[string]string `json:"env"`
	Ports   map[string]int    `json:"ports"` // host port -> container port
	Restart string            `json:"restart"`
	Labels  map[string]string `json:"labels"`
}

type imageConfig struct {
	Name         string `json:"name"`
	BuildContext string `json:"buildContext"`
	Dockerfile   string `json:"dockerfile"`
}

type networkConfig struct {
	Name     string            `json:"name"`
	Driver   string            `json:"driver"`
	Internal bool              `json:"internal"`
	Labels   map[string]string `json:"labels"`
}

type volumeConfig struct {
	Name   string            `json:"name"`
	Driver string            `json:"driver"`
	Labels map[string]string `json:"labels"`
}

func (p *Provider) Create(ctx context.Context, typ string, config map[string]any) (string, map[string]any, error) {
	switch typ {
	case TypeContainer:
		return p.createContainer(ctx, config)
	case TypeImage:
		return p.createImage(ctx, config)
	case TypeNetwork:
		return p.createNetwork(ctx, config)
	case TypeVolume:
		return p.createVolume(ctx, config)
	}
	return "", nil, fmt.Errorf("unknown resource type: %s", typ)
}

func (p *Provider) createContainer(ctx context.Context, config map[string]any) (string, map[string]any, error) {
	var desired containerConfig
	if err := decode(config, &desired); err != nil {
		return "", nil, err
	}

	reader, err := p.client.ImagePull(ctx, desired.Image, image.PullOptions{})
	if err != nil {
		return "", nil, wrapErr("create", TypeContainer, err)
	}
	io.Copy(io.Discard, reader)
	reader.Close()

	portBindings := nat.PortMap{}
	for hostPort, containerPort := range desired.Ports {
		cp := nat.Port(fmt.Sprintf("%d/tcp", containerPort))
		portBindings[cp] = []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: hostPort}}
	}

	hostConfig := &container.HostConfig{PortBindings: portBindings}
	if desired.Restart != "" {
		hostConfig.RestartPolicy = container.RestartPolicy{Name: container.RestartPolicyMode(desired.Restart)}
	}

	resp, err := p.client.ContainerCreate(ctx,
		&container.Config{
			Image:  desired.Image,
			Cmd:    desired.Command,
			Env:    envList(desired.Env),
			Labels: desired.Labels,
		},
		hostConfig,
		&network.NetworkingConfig{},
		&v1.Platform{},
		desired.Name,
	)
	if err != nil {
		return "", nil, wrapErr("create", TypeContainer, err)
	}
	if err := p.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", nil, wrapErr("create", TypeContainer, err)
	}

	return resp.ID, map[string]any{"id": resp.ID, "name": desired.Name, "image": desired.Image}, nil
}

func (p *Provider) createImage(ctx context.Context, config map[string]any) (string, map[string]any, error) {
	var desired imageConfig
	if err := decode(config, &desired); err != nil {
		return "", nil, err
	}

	if desired.BuildContext != "" {
		tar, err := buildContextTar(desired.BuildContext)
		if err != nil {
			return "", nil, err
		}
		defer tar.Close()

		resp, err := p.client.ImageBuild(ctx, tar, types.ImageBuildOptions{
			Tags:       []string{desired.Name},
			Dockerfile: desired.Dockerfile,
			Remove:     true,
		})
		if err != nil {
			return "", nil, wrapErr("create", TypeImage, err)
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	} else {
		reader, err := p.client.ImagePull(ctx, desired.Name, image.PullOptions{})
		if err != nil {
			return "", nil, wrapErr("create", TypeImage, err)
		}
		io.Copy(io.Discard, reader)
		reader.Close()
	}

	inspect, _, err := p.client.ImageInspectWithRaw(ctx, desired.Name)
	if err != nil {
		return "", nil, wrapErr("create", TypeImage, err)
	}
	return inspect.ID, map[string]any{"id": inspect.ID, "name": desired.Name}, nil
}

func (p *Provider) createNetwork(ctx context.Context, config map[string]any) (string, map[string]any, error) {
	var desired networkConfig
	if err := decode(config, &desired); err != nil {
		return "", nil, err
	}
	resp, err := p.client.NetworkCreate(ctx, desired.Name, types.NetworkCreate{
		Driver:   desired.Driver,
		Internal: desired.Internal,
		Labels:   desired.Labels,
	})
	if err != nil {
		return "", nil, wrapErr("create", TypeNetwork, err)
	}
	return resp.ID, map[string]any{"id": resp.ID, "name": desired.Name}, nil
}

func (p *Provider) createVolume(ctx context.Context, config map[string]any) (string, map[string]any, error) {
	var desired volumeConfig
	if err := decode(config, &desired); err != nil {
		return "", nil, err
	}
	vol, err := p.client.VolumeCreate(ctx, volume.CreateOptions{
		Name:   desired.Name,
		Driver: desired.Driver,
		Labels: desired.Labels,
	})
	if err != nil {
		return "", nil, wrapErr("create", TypeVolume, err)
	}
	return vol.Name, map[string]any{"id": vol.Name, "name": vol.Name, "mountpoint": vol.Mountpoint}, nil
}

func (p *Provider) Read(ctx context.Context, typ, externalID string) (map[string]any, bool, error) {
	switch typ {
	case TypeContainer:
		inspect, err := p.client.ContainerInspect(ctx, externalID)
		if client.IsErrNotFound(err) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, wrapErr("read", typ, err)
		}
		return map[string]any{"id": inspect.ID, "name": inspect.Name, "image": inspect.Config.Image}, true, nil
	case TypeImage:
		inspect, _, err := p.client.ImageInspectWithRaw(ctx, externalID)
		if client.IsErrNotFound(err) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, wrapErr("read", typ, err)
		}
		return map[string]any{"id": inspect.ID}, true, nil
	case TypeNetwork:
		inspect, err := p.client.NetworkInspect(ctx, externalID, network.InspectOptions{})
		if client.IsErrNotFound(err) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, wrapErr("read", typ, err)
		}
		return map[string]any{"id": inspect.ID, "name": inspect.Name}, true, nil
	case TypeVolume:
		vol, err := p.client.VolumeInspect(ctx, externalID)
		if client.IsErrNotFound(err) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, wrapErr("read", typ, err)
		}
		return map[string]any{"id": vol.Name, "name": vol.Name, "mountpoint": vol.Mountpoint}, true, nil
	}
	return nil, false, fmt.Errorf("unknown resource type: %s", typ)
}

// Update is unsupported: every meaningful attribute forces replacement.
func (p *Provider) Update(ctx context.Context, typ, externalID string, config map[string]any) (map[string]any, error) {
	return nil, provider.ErrRequiresReplacement
}

func (p *Provider) Delete(ctx context.Context, typ, externalID string) error {
	switch typ {
	case TypeContainer:
		timeout := 10 // seconds
		_ = p.client.ContainerStop(ctx, externalID, container.StopOptions{Timeout: &timeout})
		err := p.client.ContainerRemove(ctx, externalID, container.RemoveOptions{Force: true})
		if err != nil && !client.IsErrNotFound(err) {
			return wrapErr("delete", typ, err)
		}
		return nil
	case TypeImage:
		_, err := p.client.ImageRemove(ctx, externalID, image.RemoveOptions{Force: true})
		if err != nil && !client.IsErrNotFound(err) {
			return wrapErr("delete", typ, err)
		}
		return nil
	case TypeNetwork:
		if err := p.client.NetworkRemove(ctx, externalID); err != nil && !client.IsErrNotFound(err) {
			return wrapErr("delete", typ, err)
		}
		return nil
	case TypeVolume:
		if err := p.client.VolumeRemove(ctx, externalID, true); err != nil && !client.IsErrNotFound(err) {
			return wrapErr("delete", typ, err)
		}
		return nil
	}
	return fmt.Errorf("unknown resource type: %s", typ)
}

func buildContextTar(dir string) (io.ReadCloser, error) {
	tar, err := archive.TarWithOptions(dir, &archive.TarOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create build context tar: %w", err)
	}
	return tar, nil
}

func decode(config map[string]any, out any) error {
	raw, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}
	return nil
}

func envList(env map[string]string) []string {
	var list []string
	for k, v := range env {
		list = append(list, fmt.Sprintf("%s=%s", k, v))
	}
	return list
}

func wrapErr(op, typ string, err error) error {
	return &provider.Error{Provider: "docker", Type: typ, Op: op, Retryable: false, Err: err}
}
