// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// ConversionBackend identifies the HEIC decoding tool.
type ConversionBackend string

const (
	BackendNative    ConversionBackend = "native"
	BackendContainer ConversionBackend = "container"
)

// StoreBackend identifies where converted bytes live while displayed.
type StoreBackend string

const (
	StoreMemory StoreBackend = "memory"
	StoreSQLite StoreBackend = "sqlite"
)

// ManifestFormat selects the batch manifest encoding.
type ManifestFormat string

const (
	ManifestYAML ManifestFormat = "yaml"
	ManifestJSON ManifestFormat = "json"
)

// SelectorConfig holds settings for the file selector.
type SelectorConfig struct {
	// AcceptType is the declared media type a file must carry exactly
	// (default "image/heic").
	AcceptType string `json:"accept_type" yaml:"accept_type" mapstructure:"accept_type"`
}

// ConversionConfig holds settings for the conversion stage.
type ConversionConfig struct {
	// Backend selects the decoder: native or container.
	Backend ConversionBackend `json:"backend" yaml:"backend" mapstructure:"backend"`

	// Quality is the JPEG quality, 1-100 (default 92).
	Quality int `json:"quality" yaml:"quality" mapstructure:"quality"`

	// MaxDimension caps the longer output side in pixels. Zero keeps the
	// original size.
	MaxDimension int `json:"max_dimension" yaml:"max_dimension" mapstructure:"max_dimension"`

	// Image is the container image used by the container backend.
	Image string `json:"image" yaml:"image" mapstructure:"image"`

	// Workers is the number of files converted at once. One (the default)
	// converts strictly in sequence.
	Workers int `json:"workers" yaml:"workers" mapstructure:"workers"`
}

// StoreConfig holds settings for the handle store.
type StoreConfig struct {
	// Backend selects memory or sqlite.
	Backend StoreBackend `json:"backend" yaml:"backend" mapstructure:"backend"`

	// TempDir is where the sqlite backend places its session file.
	// Empty uses the system temp directory.
	TempDir string `json:"temp_dir" yaml:"temp_dir" mapstructure:"temp_dir"`
}

// GalleryConfig holds settings for rendering and saving images.
type GalleryConfig struct {
	// ThumbnailWidth is the preview width in pixels (default 300).
	ThumbnailWidth int `json:"thumbnail_width" yaml:"thumbnail_width" mapstructure:"thumbnail_width"`
}

// OutputConfig holds settings for the convert command's files on disk.
type OutputConfig struct {
	// Dir receives converted-image-<n>.jpg and the archive.
	Dir string `json:"dir" yaml:"dir" mapstructure:"dir"`

	// Images writes each displayed image individually.
	Images bool `json:"images" yaml:"images" mapstructure:"images"`

	// Zip writes converted-images.zip.
	Zip bool `json:"zip" yaml:"zip" mapstructure:"zip"`

	// Manifest is the path of the batch manifest. Empty disables it.
	Manifest string `json:"manifest" yaml:"manifest" mapstructure:"manifest"`

	ManifestFormat ManifestFormat `json:"manifest_format" yaml:"manifest_format" mapstructure:"manifest_format"`
}

// ServeConfig holds settings for the web page.
type ServeConfig struct {
	// Addr is the listen address (default "127.0.0.1:8080").
	Addr string `json:"addr" yaml:"addr" mapstructure:"addr"`

	// MaxUploadBytes bounds one multipart upload (default 512 MiB).
	MaxUploadBytes int64 `json:"max_upload_bytes" yaml:"max_upload_bytes" mapstructure:"max_upload_bytes"`
}

// Config groups all stage configurations.
type Config struct {
	Selector   SelectorConfig   `json:"selector" yaml:"selector" mapstructure:"selector"`
	Conversion ConversionConfig `json:"conversion" yaml:"conversion" mapstructure:"conversion"`
	Store      StoreConfig      `json:"store" yaml:"store" mapstructure:"store"`
	Gallery    GalleryConfig    `json:"gallery" yaml:"gallery" mapstructure:"gallery"`
	Output     OutputConfig     `json:"output" yaml:"output" mapstructure:"output"`
	Serve      ServeConfig      `json:"serve" yaml:"serve" mapstructure:"serve"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		Selector: SelectorConfig{AcceptType: MediaTypeHEIC},
		Conversion: ConversionConfig{
			Backend: BackendNative,
			Quality: 92,
			Image:   "heicjpg-convert:latest",
			Workers: 1,
		},
		Store:   StoreConfig{Backend: StoreMemory},
		Gallery: GalleryConfig{ThumbnailWidth: 300},
		Output: OutputConfig{
			Dir:            "converted",
			Images:         true,
			ManifestFormat: ManifestYAML,
		},
		Serve: ServeConfig{
			Addr:           "127.0.0.1:8080",
			MaxUploadBytes: 512 << 20,
		},
	}
}
