// Package cloudinit 生成 NoCloud 数据源种子盘，用于向本地虚拟机注入登录用户和公钥
package cloudinit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// VolumeID NoCloud 要求种子盘卷标为 cidata
const VolumeID = "cidata"

// ErrNoISOTool 找不到 genisoimage 和 mkisofs
var ErrNoISOTool = errors.New("neither genisoimage nor mkisofs found")

// Options 种子参数
type Options struct {
	Hostname string
	User     string
	Keys     []string
	Commands []string
}

// Seed 一台机器的 meta-data 和 user-data
type Seed struct {
	MetaData MetaData
	UserData UserData
}

// NewSeed 创建种子，User 带免密 sudo 并禁用密码登录
func NewSeed(opts Options) (*Seed, error) {
	if opts.Hostname == "" {
		return nil, errors.New("hostname is required")
	}
	if opts.User == "" {
		return nil, errors.New("user is required")
	}
	if len(opts.Keys) == 0 {
		return nil, errors.New("at least one ssh key is required")
	}

	locked := true
	pwauth := false
	return &Seed{
		MetaData: MetaData{
			InstanceID:    "i-" + opts.Hostname,
			LocalHostname: opts.Hostname,
		},
		UserData: UserData{
			Users: []any{
				"default",
				User{
					Name:              opts.User,
					Groups:            "sudo",
					Shell:             "/bin/bash",
					Sudo:              "ALL=(ALL) NOPASSWD:ALL",
					LockPasswd:        &locked,
					SSHAuthorizedKeys: opts.Keys,
				},
			},
			DisableRoot: true,
			SSHPwauth:   &pwauth,
			RunCmd:      opts.Commands,
		},
	}, nil
}

// RenderMetaData meta-data 文件内容
func (s *Seed) RenderMetaData() ([]byte, error) {
	data, err := yaml.Marshal(&s.MetaData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal meta-data: %w", err)
	}
	return data, nil
}

// RenderUserData user-data 文件内容，带 #cloud-config 头
func (s *Seed) RenderUserData() ([]byte, error) {
	data, err := yaml.Marshal(&s.UserData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal user-data: %w", err)
	}
	return append([]byte("#cloud-config\n"), data...), nil
}

// WriteISO 在 path 生成种子盘
func (s *Seed) WriteISO(ctx context.Context, path string) error {
	tool, err := isoTool()
	if err != nil {
		return err
	}

	tmpDir, err := os.MkdirTemp("", "cloudinit-")
	if err != nil {
		return fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer func() {
		_ = os.RemoveAll(tmpDir)
	}()

	if err := s.writeFiles(tmpDir); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create seed directory: %w", err)
	}

	cmd := exec.CommandContext(ctx, tool,
		"-output", path,
		"-volid", VolumeID,
		"-joliet",
		"-rock",
		tmpDir,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to create seed iso: %w, output: %s", err, string(output))
	}
	return nil
}

func (s *Seed) writeFiles(dir string) error {
	metaData, err := s.RenderMetaData()
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "meta-data"), metaData, 0o600); err != nil {
		return fmt.Errorf("failed to write meta-data: %w", err)
	}

	userData, err := s.RenderUserData()
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "user-data"), userData, 0o600); err != nil {
		return fmt.Errorf("failed to write user-data: %w", err)
	}
	return nil
}

func isoTool() (string, error) {
	for _, name := range []string{"genisoimage", "mkisofs"} {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", ErrNoISOTool
}

// RemoveISO 删除种子盘，不存在时忽略
func RemoveISO(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove seed iso: %w", err)
	}
	return nil
}
