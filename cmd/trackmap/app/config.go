package app

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

const (
	ImagePNG  ImageFormat = "png"
	ImageJPEG ImageFormat = "jpeg"
)

const (
	defaultWidth  = 1000
	defaultHeight = 800
)

type ImageFormat string

type Config struct {
	DBPath        string
	SessionID     int64
	OutputFile    string
	Format        ImageFormat
	Width         int
	Height        int
	StartTime     *time.Time
	EndTime       *time.Time
	ValidOnly     bool
	ListSessions  bool
	NoAnnotations bool
	TimeZone      *time.Location
}

var validImageFormats = map[ImageFormat]struct{}{
	ImagePNG:  {},
	ImageJPEG: {},
}

func NewConfig() *Config {
	return &Config{
		Format:   ImagePNG,
		Width:    defaultWidth,
		Height:   defaultHeight,
		TimeZone: time.Local,
	}
}

func NewConfigFromCLI() (*Config, error) {
	return ParseFlags(os.Args[0], os.Args[1:], os.Stderr)
}

// ParseFlags builds a Config from command line arguments. Usage is written to
// output when the arguments are rejected.
func ParseFlags(name string, args []string, output io.Writer) (*Config, error) {
	c := NewConfig()
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(output)

	var imageFormat, startTime, endTime, timeZone string
	fs.StringVar(&c.DBPath, "db", "", "Path to the database file")
	fs.Int64Var(&c.SessionID, "s", 1, "Session ID")
	fs.StringVar(&c.OutputFile, "o", "", "Path to the output file, without extension")
	fs.StringVar(&imageFormat, "f", string(ImagePNG), "Output image format. [png, jpeg]")
	fs.IntVar(&c.Width, "width", defaultWidth, "Width of the plot area in pixels")
	fs.IntVar(&c.Height, "height", defaultHeight, "Height of the plot area in pixels")
	fs.StringVar(&startTime, "from", "", "Only positions computed at or after this time (format 2006-01-02 15:04:05)")
	fs.StringVar(&endTime, "to", "", "Only positions computed at or before this time (format 2006-01-02 15:04:05)")
	fs.StringVar(&timeZone, "tz", "", "Time zone for the time filters and labels, defaults to local")
	fs.BoolVar(&c.ValidOnly, "valid-only", false, "Skip positions above the accuracy threshold")
	fs.BoolVar(&c.ListSessions, "list", false, "List recorded sessions and exit")
	fs.BoolVar(&c.NoAnnotations, "no-annotations", false, "Disable annotations such as the scale and the legend")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	imageFormat = strings.ToLower(imageFormat)
	if imageFormat == "jpg" {
		imageFormat = string(ImageJPEG)
	}

	var err error
	if timeZone != "" {
		if c.TimeZone, err = time.LoadLocation(timeZone); err != nil {
			err = fmt.Errorf("invalid time zone: %w", err)
		}
	}
	if err == nil {
		c.StartTime, err = parseTime(startTime, c.TimeZone)
	}
	if err == nil {
		c.EndTime, err = parseTime(endTime, c.TimeZone)
	}

	switch {
	case err != nil:
	case c.DBPath == "":
		err = errors.New("db path is required")
	case c.ListSessions:
		// nothing else is needed to list sessions
	case c.SessionID <= 0:
		err = errors.New("session id is required")
	case c.OutputFile == "":
		err = errors.New("output file is required")
	case c.Width < minPlotSize || c.Height < minPlotSize:
		err = fmt.Errorf("plot area must be at least %dx%d pixels", minPlotSize, minPlotSize)
	case c.StartTime != nil && c.EndTime != nil && c.EndTime.Before(*c.StartTime):
		err = errors.New("end time is before start time")
	default:
		if _, ok := validImageFormats[ImageFormat(imageFormat)]; !ok {
			err = fmt.Errorf("invalid image format: %s", imageFormat)
		}
	}

	if err != nil {
		fs.Usage()
		return nil, err
	}

	if !c.ListSessions {
		c.Format = ImageFormat(imageFormat)
		c.OutputFile = fmt.Sprintf("%s.%s", c.OutputFile, c.Format)
	}
	return c, nil
}

func parseTime(value string, loc *time.Location) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(time.DateTime, value, loc)
	if err != nil {
		return nil, fmt.Errorf("invalid time '%s': %w", value, err)
	}
	return &t, nil
}
