package player

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// 一次调用取全部字段，tab 分隔
const playerctlFormat = "{{mpris:trackid}}\t{{artist}}\t{{title}}\t{{album}}\t{{mpris:length}}\t{{status}}\t{{position}}"

type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRun(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// Playerctl reads MPRIS players through the playerctl CLI.
type Playerctl struct {
	player string
	run    runFunc
	now    func() time.Time
}

// NewPlayerctl targets one player by name, or whichever is active when empty.
func NewPlayerctl(player string) *Playerctl {
	return &Playerctl{player: player, run: execRun, now: time.Now}
}

func (p *Playerctl) Name() string {
	return "playerctl"
}

func (p *Playerctl) Current(ctx context.Context) (Snapshot, error) {
	args := []string{"metadata", "--format", playerctlFormat}
	if p.player != "" {
		args = append([]string{"--player=" + p.player}, args...)
	}
	out, err := p.run(ctx, "playerctl", args...)
	now := p.now()
	if err != nil {
		if strings.Contains(err.Error(), "No players found") || strings.Contains(err.Error(), "No player could handle") {
			return Snapshot{}, ErrNothingPlaying
		}
		return Snapshot{}, err
	}
	return parsePlayerctl(strings.TrimRight(string(out), "\r\n"), now)
}

func parsePlayerctl(line string, now time.Time) (Snapshot, error) {
	fields := strings.Split(line, "\t")
	if len(fields) != 7 {
		return Snapshot{}, fmt.Errorf("%w: expected 7 fields, got %d", ErrMalformed, len(fields))
	}
	trackID, artist, title, album := fields[0], fields[1], fields[2], fields[3]
	status := fields[5]
	if status == "Stopped" || strings.TrimSpace(title) == "" {
		return Snapshot{}, ErrNothingPlaying
	}
	// 有的播放器不提供 trackid
	if trackID == "" || trackID == "/org/mpris/MediaPlayer2/TrackList/NoTrack" {
		trackID = artist + "\x00" + title
	}

	s := Snapshot{
		TrackID:    trackID,
		Title:      title,
		Artist:     artist,
		Album:      album,
		IsPlaying:  status == "Playing",
		ObservedAt: now,
	}
	if us, err := strconv.ParseFloat(strings.TrimSpace(fields[4]), 64); err == nil && us > 0 {
		s.Duration = us / 1e6
	}
	us, err := strconv.ParseFloat(strings.TrimSpace(fields[6]), 64)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: position %q", ErrMalformed, fields[6])
	}
	s.Elapsed = us / 1e6
	return s, nil
}
