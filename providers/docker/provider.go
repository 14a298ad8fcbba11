// Package docker provisions resources against a local Docker daemon:
// images, networks, volumes and containers.
package docker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/go-connections/nat"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/terrane-io/terrane/internal/schema"
)

const stopTimeoutSeconds = 10

type Provider struct {
	client *client.Client
}

func New() *Provider {
	return &Provider{}
}

func (p *Provider) Name() string {
	return "docker"
}

func (p *Provider) ensureClient() error {
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

func (p *Provider) Schemas() []schema.KindSchema {
	return []schema.KindSchema{
		{
			Kind: "docker_image",
			Attributes: map[string]schema.AttributeSchema{
				"name":         {Type: schema.TypeString, Required: true, Immutable: true},
				"buildContext": {Type: schema.TypeString, Immutable: true},
				"dockerfile":   {Type: schema.TypeString, Immutable: true},
				"id":           {Type: schema.TypeString, Computed: true},
			},
		},
		{
			Kind: "docker_network",
			Attributes: map[string]schema.AttributeSchema{
				"name":     {Type: schema.TypeString, Required: true, Immutable: true},
				"driver":   {Type: schema.TypeString, Immutable: true},
				"internal": {Type: schema.TypeBool, Immutable: true},
				"labels":   {Type: schema.TypeMap, Immutable: true},
				"id":       {Type: schema.TypeString, Computed: true},
			},
		},
		{
			Kind: "docker_volume",
			Attributes: map[string]schema.AttributeSchema{
				"name":   {Type: schema.TypeString, Required: true, Immutable: true},
				"driver": {Type: schema.TypeString, Immutable: true},
				"id":     {Type: schema.TypeString, Computed: true},
			},
		},
		{
			Kind: "docker_container",
			Attributes: map[string]schema.AttributeSchema{
				"name":        {Type: schema.TypeString, Required: true, Immutable: true},
				"image":       {Type: schema.TypeString, Required: true, Immutable: true},
				"command":     {Type: schema.TypeList, Immutable: true},
				"ports":       {Type: schema.TypeMap, Immutable: true},
				"env":         {Type: schema.TypeMap, Immutable: true},
				"networks":    {Type: schema.TypeList, Immutable: true},
				"volumes":     {Type: schema.TypeList, Immutable: true},
				"labels":      {Type: schema.TypeMap, Immutable: true},
				"workingDir":  {Type: schema.TypeString, Immutable: true},
				"user":        {Type: schema.TypeString, Immutable: true},
				"restart":     {Type: schema.TypeString},
				"healthcheck": {Type: schema.TypeMap, Immutable: true},
				"logging":     {Type: schema.TypeMap, Immutable: true},
				"secrets":     {Type: schema.TypeList, Immutable: true},
				"id":          {Type: schema.TypeString, Computed: true},
			},
		},
	}
}

func (p *Provider) Create(ctx context.Context, kind string, inputs map[string]any) (string, map[string]any, error) {
	if err := p.ensureClient(); err != nil {
		return "", nil, err
	}

	switch kind {
	case "docker_image":
		return p.createImage(ctx, inputs)
	case "docker_network":
		return p.createNetwork(ctx, inputs)
	case "docker_volume":
		return p.createVolume(ctx, inputs)
	case "docker_container":
		return p.createContainer(ctx, inputs)
	}
	return "", nil, fmt.Errorf("unknown resource kind: %s", kind)
}

func (p *Provider) Update(ctx context.Context, kind, id string, oldInputs, newInputs map[string]any) (map[string]any, error) {
	if err := p.ensureClient(); err != nil {
		return nil, err
	}

	// Only a container's restart policy can change in place; every other
	// attribute is immutable and plans as a replace.
	if kind != "docker_container" {
		return nil, fmt.Errorf("resource kind %s cannot be updated in place", kind)
	}

	var desired ContainerConfig
	if err := decodeInputs(newInputs, &desired); err != nil {
		return nil, err
	}

	update := container.UpdateConfig{}
	if desired.Restart != "" {
		update.RestartPolicy = container.RestartPolicy{
			Name: container.RestartPolicyMode(desired.Restart),
		}
	}
	if _, err := p.client.ContainerUpdate(ctx, id, update); err != nil {
		return nil, fmt.Errorf("failed to update container: %w", err)
	}

	return map[string]any{"id": id, "name": desired.Name, "image": desired.Image}, nil
}

func (p *Provider) Destroy(ctx context.Context, kind, id string) error {
	if err := p.ensureClient(); err != nil {
		return err
	}

	switch kind {
	case "docker_image":
		_, err := p.client.ImageRemove(ctx, id, image.RemoveOptions{Force: true})
		if err != nil && !client.IsErrNotFound(err) {
			return fmt.Errorf("failed to remove image: %w", err)
		}
		return nil
	case "docker_network":
		if err := p.client.NetworkRemove(ctx, id); err != nil && !client.IsErrNotFound(err) {
			return fmt.Errorf("failed to remove network: %w", err)
		}
		return nil
	case "docker_volume":
		if err := p.client.VolumeRemove(ctx, id, true); err != nil && !client.IsErrNotFound(err) {
			return fmt.Errorf("failed to remove volume: %w", err)
		}
		return nil
	case "docker_container":
		timeout := stopTimeoutSeconds
		_ = p.client.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout})
		if err := p.client.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil && !client.IsErrNotFound(err) {
			return fmt.Errorf("failed to remove container: %w", err)
		}
		return nil
	}
	return fmt.Errorf("unknown resource kind: %s", kind)
}

func (p *Provider) Read(ctx context.Context, kind, id string, inputs map[string]any) (map[string]any, bool, error) {
	if err := p.ensureClient(); err != nil {
		return nil, false, err
	}

	switch kind {
	case "docker_image":
		inspect, _, err := p.client.ImageInspectWithRaw(ctx, id)
		if err != nil {
			if client.IsErrNotFound(err) {
				return nil, false, nil
			}
			return nil, false, fmt.Errorf("failed to inspect image: %w", err)
		}
		name, _ := inputs["name"].(string)
		if name == "" && len(inspect.RepoTags) > 0 {
			name = inspect.RepoTags[0]
		}
		return map[string]any{"id": inspect.ID, "name": name}, true, nil

	case "docker_network":
		nw, err := p.client.NetworkInspect(ctx, id, network.InspectOptions{})
		if err != nil {
			if client.IsErrNotFound(err) {
				return nil, false, nil
			}
			return nil, false, fmt.Errorf("failed to inspect network: %w", err)
		}
		return map[string]any{"id": nw.ID, "name": nw.Name, "driver": nw.Driver}, true, nil

	case "docker_volume":
		vol, err := p.client.VolumeInspect(ctx, id)
		if err != nil {
			if client.IsErrNotFound(err) {
				return nil, false, nil
			}
			return nil, false, fmt.Errorf("failed to inspect volume: %w", err)
		}
		return map[string]any{"id": vol.Name, "name": vol.Name, "driver": vol.Driver}, true, nil

	case "docker_container":
		info, err := p.client.ContainerInspect(ctx, id)
		if err != nil {
			if client.IsErrNotFound(err) {
				return nil, false, nil
			}
			return nil, false, fmt.Errorf("failed to inspect container: %w", err)
		}
		outputs := map[string]any{
			"id":   info.ID,
			"name": strings.TrimPrefix(info.Name, "/"),
		}
		if info.Config != nil {
			outputs["image"] = info.Config.Image
		}
		return outputs, true, nil
	}
	return nil, false, fmt.Errorf("unknown resource kind: %s", kind)
}

func (p *Provider) createImage(ctx context.Context, inputs map[string]any) (string, map[string]any, error) {
	var desired ImageConfig
	if err := decodeInputs(inputs, &desired); err != nil {
		return "", nil, err
	}

	if desired.BuildContext != "" {
		tar, err := archive.TarWithOptions(desired.BuildContext, &archive.TarOptions{})
		if err != nil {
			return "", nil, fmt.Errorf("failed to create build context tar: %w", err)
		}

		opts := types.ImageBuildOptions{
			Tags:       []string{desired.Name},
			Dockerfile: desired.Dockerfile,
			Remove:     true,
		}

		resp, err := p.client.ImageBuild(ctx, tar, opts)
		if err != nil {
			return "", nil, fmt.Errorf("failed to build image: %w", err)
		}
		defer resp.Body.Close()

		// Drain output to prevent blocking
		io.Copy(io.Discard, resp.Body)
	} else {
		reader, err := p.client.ImagePull(ctx, desired.Name, image.PullOptions{})
		if err != nil {
			return "", nil, fmt.Errorf("failed to pull image: %w", err)
		}
		io.Copy(io.Discard, reader)
		reader.Close()
	}

	inspect, _, err := p.client.ImageInspectWithRaw(ctx, desired.Name)
	if err != nil {
		return "", nil, fmt.Errorf("failed to inspect built image: %w", err)
	}

	return inspect.ID, map[string]any{"id": inspect.ID, "name": desired.Name}, nil
}

func (p *Provider) createNetwork(ctx context.Context, inputs map[string]any) (string, map[string]any, error) {
	var desired NetworkConfig
	if err := decodeInputs(inputs, &desired); err != nil {
		return "", nil, err
	}

	resp, err := p.client.NetworkCreate(ctx, desired.Name, network.CreateOptions{
		Driver:   desired.Driver,
		Internal: desired.Internal,
		Labels:   desired.Labels,
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to create network: %w", err)
	}

	return resp.ID, map[string]any{"id": resp.ID, "name": desired.Name, "driver": desired.Driver}, nil
}

func (p *Provider) createVolume(ctx context.Context, inputs map[string]any) (string, map[string]any, error) {
	var desired VolumeConfig
	if err := decodeInputs(inputs, &desired); err != nil {
		return "", nil, err
	}

	vol, err := p.client.VolumeCreate(ctx, volume.CreateOptions{
		Name:   desired.Name,
		Driver: desired.Driver,
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to create volume: %w", err)
	}

	return vol.Name, map[string]any{"id": vol.Name, "name": vol.Name, "driver": vol.Driver}, nil
}

func (p *Provider) createContainer(ctx context.Context, inputs map[string]any) (string, map[string]any, error) {
	var desired ContainerConfig
	if err := decodeInputs(inputs, &desired); err != nil {
		return "", nil, err
	}

	// Pull unless the image is already present locally; it may have just
	// been built by a docker_image resource.
	if _, _, err := p.client.ImageInspectWithRaw(ctx, desired.Image); err != nil {
		reader, err := p.client.ImagePull(ctx, desired.Image, image.PullOptions{})
		if err != nil {
			return "", nil, fmt.Errorf("failed to pull image %s: %w", desired.Image, err)
		}
		io.Copy(io.Discard, reader)
		reader.Close()
	}

	portBindings := nat.PortMap{}
	for hostPort, containerPort := range desired.Ports {
		cp := nat.Port(fmt.Sprintf("%d/tcp", containerPort))
		portBindings[cp] = []nat.PortBinding{
			{
				HostIP:   "0.0.0.0",
				HostPort: hostPort,
			},
		}
	}

	var binds []string
	for _, v := range desired.Volumes {
		parts := strings.SplitN(v, ":", 2)
		if len(parts) > 0 {
			if strings.HasPrefix(parts[0], "./") || strings.HasPrefix(parts[0], "../") {
				abs, err := filepath.Abs(parts[0])
				if err == nil {
					parts[0] = abs
					binds = append(binds, strings.Join(parts, ":"))
					continue
				}
			}
		}
		binds = append(binds, v)
	}

	hostConfig := &container.HostConfig{
		PortBindings: portBindings,
		Binds:        binds,
	}
	if len(desired.Networks) > 0 {
		hostConfig.NetworkMode = container.NetworkMode(desired.Networks[0])
	}

	if desired.Restart != "" {
		hostConfig.RestartPolicy = container.RestartPolicy{
			Name: container.RestartPolicyMode(desired.Restart),
		}
	}

	if desired.Logging != nil {
		hostConfig.LogConfig = container.LogConfig{
			Type:   desired.Logging.Driver,
			Config: desired.Logging.Options,
		}
	}

	for _, secret := range desired.Secrets {
		absPath, err := filepath.Abs(secret.File)
		if err != nil {
			return "", nil, fmt.Errorf("failed to resolve secret file path: %w", err)
		}
		hostConfig.Binds = append(hostConfig.Binds, fmt.Sprintf("%s:%s:ro", absPath, secret.Target))
	}

	config := &container.Config{
		Image:      desired.Image,
		Cmd:        desired.Command,
		Env:        mapToEnvList(desired.Env),
		Labels:     desired.Labels,
		WorkingDir: desired.WorkingDir,
		User:       desired.User,
	}

	if desired.Healthcheck != nil {
		test := desired.Healthcheck.Test
		if len(test) == 0 {
			test = []string{"NONE"}
		}

		interval, _ := time.ParseDuration(desired.Healthcheck.Interval)
		timeout, _ := time.ParseDuration(desired.Healthcheck.Timeout)
		startPeriod, _ := time.ParseDuration(desired.Healthcheck.StartPeriod)

		config.Healthcheck = &container.HealthConfig{
			Test:        test,
			Interval:    interval,
			Timeout:     timeout,
			StartPeriod: startPeriod,
			Retries:     desired.Healthcheck.Retries,
		}
	}

	resp, err := p.client.ContainerCreate(ctx,
		config,
		hostConfig,
		&network.NetworkingConfig{},
		&v1.Platform{},
		desired.Name,
	)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create container: %w", err)
	}

	if err := p.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", nil, fmt.Errorf("failed to start container: %w", err)
	}

	return resp.ID, map[string]any{"id": resp.ID, "name": desired.Name, "image": desired.Image}, nil
}

// decodeInputs maps the engine's loosely typed attribute map onto a typed
// config struct through a JSON round trip.
func decodeInputs(inputs map[string]any, into any) error {
	data, err := json.Marshal(inputs)
	if err != nil {
		return fmt.Errorf("failed to encode inputs: %w", err)
	}
	if err := json.Unmarshal(data, into); err != nil {
		return fmt.Errorf("failed to decode inputs: %w", err)
	}
	return nil
}

func mapToEnvList(m map[string]string) []string {
	var env []string
	for k, v := range m {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}

type ContainerConfig struct {
	Image       string             `json:"image"`
	Name        string             `json:"name"`
	Command     []string           `json:"command"`
	Ports       map[string]int     `json:"ports"`
	Env         map[string]string  `json:"env"`
	Networks    []string           `json:"networks"`
	Volumes     []string           `json:"volumes"`
	Labels      map[string]string  `json:"labels"`
	WorkingDir  string             `json:"workingDir"`
	User        string             `json:"user"`
	Restart     string             `json:"restart"`
	Healthcheck *HealthcheckConfig `json:"healthcheck"`
	Logging     *LoggingConfig     `json:"logging"`
	Secrets     []SecretConfig     `json:"secrets"`
}

type HealthcheckConfig struct {
	Test        []string `json:"test"`
	Interval    string   `json:"interval"`
	Timeout     string   `json:"timeout"`
	StartPeriod string   `json:"startPeriod"`
	Retries     int      `json:"retries"`
}

type LoggingConfig struct {
	Driver  string            `json:"driver"`
	Options map[string]string `json:"options"`
}

type SecretConfig struct {
	Source string `json:"source"`
	Target string `json:"target"`
	File   string `json:"file"`
}

type NetworkConfig struct {
	Name     string            `json:"name"`
	Driver   string            `json:"driver"`
	Internal bool              `json:"internal"`
	Labels   map[string]string `json:"labels"`
}

type VolumeConfig struct {
	Name   string `json:"name"`
	Driver string `json:"driver"`
}

type ImageConfig struct {
	Name         string `json:"name"`
	BuildContext string `json:"buildContext"`
	Dockerfile   string `json:"dockerfile"`
}
