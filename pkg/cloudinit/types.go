package cloudinit

// MetaData NoCloud meta-data
type MetaData struct {
	InstanceID    string `yaml:"instance-id"`
	LocalHostname string `yaml:"local-hostname"`
}

// UserData #cloud-config 格式的 user-data，只包含机器池用到的字段
type UserData struct {
	Users       []any    `yaml:"users,omitempty"`
	DisableRoot bool     `yaml:"disable_root,omitempty"`
	SSHPwauth   *bool    `yaml:"ssh_pwauth,omitempty"`
	RunCmd      []string `yaml:"runcmd,omitempty"`
}

// User cloud-init 用户
type User struct {
	Name              string   `yaml:"name"`
	Groups            string   `yaml:"groups,omitempty"`
	Shell             string   `yaml:"shell,omitempty"`
	Sudo              string   `yaml:"sudo,omitempty"`
	LockPasswd        *bool    `yaml:"lock_passwd,omitempty"`
	SSHAuthorizedKeys []string `yaml:"ssh_authorized_keys,omitempty"`
}
