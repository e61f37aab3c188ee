package service

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// RefreshCommand describes the external credential-refresh process for one
// platform. The contract is exit-code success plus a side-effect write of the
// credential file; its internals are never inspected.
type RefreshCommand struct {
	Name           string
	Args           []string
	CredentialFile string
	AccountLabel   string
}

// RefreshCredentials invokes the platform's refresh process and, on success,
// loads the freshly written credential file into the store and the crawler.
func (s *Service) RefreshCredentials(ctx context.Context, platform string) (*ProbeResult, error) {
	platform = strings.ToLower(platform)

	command, ok := s.refresh[platform]
	if !ok || command.Name == "" {
		return nil, errors.Errorf("no refresh command configured for platform: %s", platform)
	}

	s.logger.Info("invoking credential refresh process",
		zap.String("platform", platform),
		zap.String("command", command.Name),
	)

	cmd := exec.CommandContext(ctx, command.Name, command.Args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, errors.Wrapf(err, "refresh process failed: %s", strings.TrimSpace(string(output)))
	}

	payload, err := readCredentialFile(command.CredentialFile)
	if err != nil {
		return nil, err
	}

	return s.UpdateCredentials(ctx, platform, command.AccountLabel, payload)
}

func readCredentialFile(path string) (map[string]string, error) {
	if path == "" {
		return nil, errors.New("refresh command has no credential file configured")
	}

	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failure reading refreshed credential file")
	}

	var payload map[string]string
	err = json.Unmarshal(raw, &payload)
	if err != nil {
		return nil, errors.Wrap(err, "failure parsing refreshed credential file")
	}
	if len(payload) == 0 {
		return nil, errors.New("refreshed credential file is empty")
	}

	return payload, nil
}
