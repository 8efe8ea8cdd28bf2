package monitor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xpadev-net/clipwatch/internal/clip"
)

// Classifier decides whether a clip was cut from the broadcast in progress.
type Classifier struct {
	source  Source
	timeout time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

// NewClassifier creates a classifier reading from source. Each read is
// bounded by timeout.
func NewClassifier(source Source, timeout time.Duration, logger *zap.Logger) *Classifier {
	return &Classifier{source: source, timeout: timeout, now: time.Now, logger: logger}
}

// Classify returns OriginLive only when the streamer is live, has a
// recording, the clip belongs to that recording and was created between the
// recording start and now. Everything else, read failures included, is
// OriginVOD. At most two reads are made.
func (c *Classifier) Classify(ctx context.Context, cl clip.Clip, streamerID string) clip.Origin {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	live, err := c.source.GetLiveStatus(callCtx, streamerID)
	cancel()
	if err != nil {
		c.logger.Debug("classify: live status unavailable", zap.String("clip_id", cl.ID), zap.Error(err))
		return clip.OriginVOD
	}
	if live == nil {
		return clip.OriginVOD
	}

	callCtx, cancel = context.WithTimeout(ctx, c.timeout)
	rec, err := c.source.GetLatestRecording(callCtx, streamerID)
	cancel()
	if err != nil {
		c.logger.Debug("classify: recording unavailable", zap.String("clip_id", cl.ID), zap.Error(err))
		return clip.OriginVOD
	}
	if rec == nil || cl.VideoID == "" || cl.VideoID != rec.ID {
		return clip.OriginVOD
	}
	if cl.CreatedAt.Before(rec.StartedAt) || cl.CreatedAt.After(c.now()) {
		return clip.OriginVOD
	}
	return clip.OriginLive
}
