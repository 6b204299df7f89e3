package app

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/roman-kulish/ultrasonic-tdoa/internal/storage"
)

func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	if _, err := os.Stat(config.DBPath); err != nil && os.IsNotExist(err) {
		return fmt.Errorf("database file '%s' does not exist: %w", config.DBPath, err)
	}

	store := storage.NewSqliteStore(config.DBPath)
	defer store.Close()

	if config.ListSessions {
		return listSessions(ctx, store, os.Stdout, config.TimeZone)
	}

	data, err := readTrack(ctx, store, config, logger)
	if err != nil {
		return err
	}
	return renderTrack(data, config, logger)
}

func listSessions(ctx context.Context, store *storage.SqliteStore, w io.Writer, loc *time.Location) error {
	sessions, err := store.Sessions(ctx)
	if err != nil {
		return err
	}

	for _, s := range sessions {
		anchors := "-"
		if layout, err := ParseLayout(s); err == nil {
			anchors = humanize.Comma(int64(len(layout.Anchors)))
		}
		_, err = fmt.Fprintf(w, "%d\t%s\t%s\tanchors: %s\trun: %s\n",
			s.ID, s.StartTime.In(loc).Format(time.DateTime), humanize.Time(s.StartTime), anchors, s.RunID)
		if err != nil {
			return err
		}
	}
	return nil
}

func readTrack(ctx context.Context, store *storage.SqliteStore, config *Config, logger *slog.Logger) (*TrackData, error) {
	var opts []storage.ReaderOption
	var filters []any
	switch {
	case config.StartTime != nil && config.EndTime != nil:
		opts = append(opts, storage.WithTimeRange(config.StartTime.UTC(), config.EndTime.UTC()))

		filters = append(filters,
			slog.String("minTimestamp", config.StartTime.UTC().Format(time.DateTime)),
			slog.String("maxTimestamp", config.EndTime.UTC().Format(time.DateTime)))

	case config.StartTime != nil:
		opts = append(opts, storage.WithStartTime(config.StartTime.UTC()))
		filters = append(filters, slog.String("minTimestamp", config.StartTime.UTC().Format(time.DateTime)))

	case config.EndTime != nil:
		opts = append(opts, storage.WithEndTime(config.EndTime.UTC()))
		filters = append(filters, slog.String("maxTimestamp", config.EndTime.UTC().Format(time.DateTime)))
	}

	if config.ValidOnly {
		opts = append(opts, storage.WithValidOnly())
		filters = append(filters, slog.Bool("validOnly", true))
	}

	logger.Info("reader configuration", filters...)

	reader, err := store.ReadTrack(ctx, config.SessionID, opts...)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	layout, err := ParseLayout(reader.Session())
	if err != nil {
		return nil, err
	}

	data := NewTrackData(reader.Session(), layout)
	for reader.Next(ctx) {
		data.Update(reader.Current())
	}
	if err = reader.Error(); err != nil {
		return nil, err
	}

	logger.Info("finished reading positions",
		slog.Group("stats",
			slog.Int64("session", data.Session.ID),
			slog.String("minTimestamp", data.TimestampStart.In(config.TimeZone).Format(time.DateTime)),
			slog.String("maxTimestamp", data.TimestampEnd.In(config.TimeZone).Format(time.DateTime)),
			slog.Int("valid", data.Valid),
			slog.Int("invalid", data.Invalid),
			slog.Int("failed", data.Unknown),
		))

	return data, nil
}

func renderTrack(data *TrackData, config *Config, logger *slog.Logger) error {
	renderer, err := NewTrackRenderer(RenderConfig{
		Width:         config.Width,
		Height:        config.Height,
		Location:      config.TimeZone,
		NoAnnotations: config.NoAnnotations,
	})
	if err != nil {
		return fmt.Errorf("creating track renderer: %w", err)
	}

	logger.Info("rendering track",
		slog.Group("image",
			slog.String("destination", config.OutputFile),
			slog.String("format", string(config.Format)),
			slog.Int("width", config.Width),
			slog.Int("height", config.Height),
		))

	img, err := renderer.Render(data)
	if err != nil {
		return fmt.Errorf("rendering track: %w", err)
	}

	out, err := os.Create(config.OutputFile)
	if err != nil {
		return err
	}

	if err = encodeImage(out, img, config.Format); err != nil {
		_ = out.Close()
		return fmt.Errorf("encoding image: %w", err)
	}
	return out.Close()
}

func encodeImage(w io.Writer, img image.Image, format ImageFormat) error {
	switch format {
	case ImageJPEG:
		return jpeg.Encode(w, img, &jpeg.Options{
			Quality: 98,
		})
	default:
		return png.Encode(w, img)
	}
}
