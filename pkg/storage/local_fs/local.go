package local_fs

type Config struct {
	SavePath   string `yaml:"save-path" default:"storage/relay"`
	CustomPath string `yaml:"custom-path"`
}

type LocalFS struct {
	Config *Config
}

func NewClient(conf *Config) (*LocalFS, error) {
	if conf.SavePath == "" {
		conf.SavePath = "storage/relay"
	}
	return &LocalFS{
		Config: conf,
	}, nil
}
