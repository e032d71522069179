package hostobserver

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/events"
	"github.com/docker/go-connections/nat"

	"github.com/snadboy/revpd/internal/domain"
)

// containerLifecycleActions is the event filter of §4.2.
var containerLifecycleActions = map[string]bool{
	"start": true, "die": true, "kill": true, "stop": true,
	"pause": true, "unpause": true, "destroy": true, "rename": true, "update": true,
}

func listContainerIDsArgv() []string {
	return []string{"docker", "ps", "-aq"}
}

func inspectArgv(ids []string) []string {
	return append([]string{"docker", "inspect"}, ids...)
}

func eventsStreamArgv() []string {
	return []string{"docker", "events", "--format", "{{json .}}"}
}

func parseContainerIDs(out []byte) []string {
	var ids []string
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			ids = append(ids, line)
		}
	}
	return ids
}

// parseInspectArray decodes `docker inspect`'s JSON array using the same
// types.ContainerJSON schema the Docker API returns (§6.1: "the command
// shapes and the JSON schema are those of the standard Docker CLI").
func parseInspectArray(host string, out []byte) ([]domain.Container, error) {
	var raw []types.ContainerJSON
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, fmt.Errorf("decode docker inspect output: %w", err)
	}
	containers := make([]domain.Container, 0, len(raw))
	for _, r := range raw {
		containers = append(containers, toDomainContainer(host, r))
	}
	return containers, nil
}

func parseInspectOne(host string, out []byte) (domain.Container, error) {
	containers, err := parseInspectArray(host, out)
	if err != nil {
		return domain.Container{}, err
	}
	if len(containers) == 0 {
		return domain.Container{}, fmt.Errorf("docker inspect returned no results")
	}
	return containers[0], nil
}

func toDomainContainer(host string, r types.ContainerJSON) domain.Container {
	bindings := make(map[int]domain.PortBinding)
	if r.NetworkSettings != nil {
		for port, mappings := range r.NetworkSettings.Ports {
			containerPort := parseContainerPort(port)
			if containerPort == 0 {
				continue
			}
			if len(mappings) == 0 {
				bindings[containerPort] = domain.PortBinding{ContainerPort: containerPort}
				continue
			}
			hostPort, err := nat.ParsePort(mappings[0].HostPort)
			if err != nil {
				bindings[containerPort] = domain.PortBinding{ContainerPort: containerPort}
				continue
			}
			bindings[containerPort] = domain.PortBinding{
				ContainerPort: containerPort,
				HostPort:      hostPort,
				Published:     true,
			}
		}
	}

	var status, image string
	var labels map[string]string
	if r.Config != nil {
		image = r.Config.Image
		labels = r.Config.Labels
	}
	if r.State != nil {
		status = r.State.Status
	}

	return domain.Container{
		ID:           r.ID,
		Host:         host,
		Name:         strings.TrimPrefix(r.Name, "/"),
		Image:        image,
		Status:       toDomainStatus(status),
		Labels:       labels,
		PortBindings: bindings,
	}
}

// parseContainerPort turns the nat.Port key ("80/tcp") into 80, ignoring
// anything on udp/sctp (proxy routing only ever targets tcp).
func parseContainerPort(port nat.Port) int {
	if proto := port.Proto(); proto != "" && !strings.EqualFold(proto, "tcp") {
		return 0
	}
	n, err := nat.ParsePort(port.Port())
	if err != nil {
		return 0
	}
	return n
}

func toDomainStatus(status string) domain.ContainerStatus {
	switch status {
	case "running":
		return domain.ContainerRunning
	case "paused":
		return domain.ContainerPaused
	case "exited", "dead", "removing":
		return domain.ContainerExited
	default:
		return domain.ContainerOther
	}
}

// parseDockerEvent decodes one line of `docker events --format '{{json .}}'`
// using the Docker API's own events.Message schema, filtering to the
// container lifecycle actions of §4.2.
func parseDockerEvent(line string) (events.Message, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return events.Message{}, false
	}
	var ev events.Message
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		return events.Message{}, false
	}
	if string(ev.Type) != "container" || !containerLifecycleActions[string(ev.Action)] {
		return events.Message{}, false
	}
	return ev, true
}
