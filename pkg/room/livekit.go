package room

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/livekit/protocol/auth"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	soxr "github.com/zaf/resample"
	opus "gopkg.in/hraban/opus.v2"

	"github.com/harunnryd/roomscribe/pkg/errorsx"
	"github.com/harunnryd/roomscribe/pkg/frames"
	"github.com/harunnryd/roomscribe/pkg/transcript"
)

const (
	roomSampleRate   = 48000
	targetSampleRate = 16000

	defaultFrameBuffer = 64
	bridgeDrainTimeout = 5 * time.Second
)

// LiveKitConfig holds the room connection parameters.
type LiveKitConfig struct {
	URL         string
	APIKey      string
	APISecret   string
	RoomName    string
	Identity    string
	Name        string
	FrameBuffer int
}

// LiveKitBridge joins a LiveKit room as an agent participant, decodes
// each remote audio track (opus at 48kHz) down to 16kHz mono PCM, and
// feeds it to the Handler one speaker at a time.
type LiveKitBridge struct {
	cfg     LiveKitConfig
	logger  *slog.Logger
	handler Handler

	room *lksdk.Room

	mu      sync.Mutex
	ingress map[string]*trackIngress

	wg        sync.WaitGroup
	closeOnce sync.Once
}

var _ Bridge = (*LiveKitBridge)(nil)

func NewLiveKitBridge(cfg LiveKitConfig, logger *slog.Logger) *LiveKitBridge {
	if cfg.FrameBuffer <= 0 {
		cfg.FrameBuffer = defaultFrameBuffer
	}
	return &LiveKitBridge{
		cfg:     cfg,
		logger:  logger,
		ingress: make(map[string]*trackIngress),
	}
}

// Connect joins the room and subscribes to all current and future audio
// tracks. The handler starts receiving speaker audio before Connect
// returns if tracks already exist.
func (b *LiveKitBridge) Connect(ctx context.Context, h Handler) error {
	b.handler = h

	token, err := b.buildToken()
	if err != nil {
		return errorsx.Wrap(fmt.Errorf("build room token: %w", err), errorsx.ReasonRoomConnect)
	}

	callbacks := &lksdk.RoomCallback{
		OnDisconnected: func() {
			b.logger.Info("room connection ended", "room", b.cfg.RoomName)
		},
		OnParticipantDisconnected: func(rp *lksdk.RemoteParticipant) {
			b.dropSpeaker(rp.Identity())
			b.handler.OnSpeakerGone(rp.Identity())
		},
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackSubscribed: b.onTrackSubscribed,
			OnTrackUnsubscribed: func(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				if track.Kind() == webrtc.RTPCodecTypeAudio {
					b.dropSpeaker(rp.Identity())
				}
			},
		},
	}

	room, err := lksdk.ConnectToRoomWithToken(b.cfg.URL, token, callbacks)
	if err != nil {
		return errorsx.Wrap(fmt.Errorf("join room %s: %w", b.cfg.RoomName, err), errorsx.ReasonRoomConnect)
	}
	b.room = room
	b.logger.Info("joined room",
		"room", room.Name(),
		"identity", room.LocalParticipant.Identity())

	// Tracks published before we joined never fire OnTrackSubscribed.
	for _, p := range room.GetRemoteParticipants() {
		for _, pub := range p.TrackPublications() {
			if pub.Kind() != lksdk.TrackKindAudio {
				continue
			}
			remotePub, ok := pub.(*lksdk.RemoteTrackPublication)
			if !ok {
				continue
			}
			if !remotePub.IsSubscribed() {
				remotePub.SetSubscribed(true)
				continue
			}
			if track, ok := remotePub.Track().(*webrtc.TrackRemote); ok && track != nil {
				b.onTrackSubscribed(track, remotePub, p)
			}
		}
	}
	return nil
}

// Publish sends a transcript envelope to the room on the transcript
// topic using the reliable data channel.
func (b *LiveKitBridge) Publish(ctx context.Context, ev transcript.Event) error {
	if b.room == nil {
		return errorsx.Wrap(errors.New("not connected to a room"), errorsx.ReasonRoomPublish)
	}
	data, err := ev.Encode()
	if err != nil {
		return errorsx.Wrap(fmt.Errorf("encode transcript: %w", err), errorsx.ReasonRoomPublish)
	}
	err = b.room.LocalParticipant.PublishDataPacket(
		lksdk.UserData(data),
		lksdk.WithDataPublishReliable(true),
		lksdk.WithDataPublishTopic(transcript.Topic),
	)
	if err != nil {
		return errorsx.Wrap(fmt.Errorf("publish transcript: %w", err), errorsx.ReasonRoomPublish)
	}
	return nil
}

// Disconnect leaves the room and waits a bounded time for the ingress
// goroutines to drain.
func (b *LiveKitBridge) Disconnect() {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		for identity, ing := range b.ingress {
			ing.stop()
			delete(b.ingress, identity)
		}
		b.mu.Unlock()

		if b.room != nil {
			b.room.Disconnect()
		}

		done := make(chan struct{})
		go func() {
			b.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			b.logger.Info("room bridge stopped", "room", b.cfg.RoomName)
		case <-time.After(bridgeDrainTimeout):
			b.logger.Warn("room bridge drain timeout")
		}
	})
}

func (b *LiveKitBridge) buildToken() (string, error) {
	at := auth.NewAccessToken(b.cfg.APIKey, b.cfg.APISecret)
	at.AddGrant(&auth.VideoGrant{
		RoomJoin: true,
		Room:     b.cfg.RoomName,
	})
	at.SetIdentity(b.cfg.Identity)
	at.SetName(b.cfg.Name)
	return at.ToJWT()
}

func (b *LiveKitBridge) onTrackSubscribed(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
	if track.Kind() != webrtc.RTPCodecTypeAudio {
		return
	}
	identity := rp.Identity()
	if identity == b.cfg.Identity {
		return
	}

	speaker := Speaker{Identity: identity, Name: rp.Name(), TrackID: pub.SID()}
	ing, err := newTrackIngress(speaker, b.cfg.FrameBuffer, b.logger)
	if err != nil {
		b.logger.Error("cannot set up track ingress",
			"participant", identity, "error", err)
		return
	}

	b.mu.Lock()
	if _, exists := b.ingress[identity]; exists {
		b.mu.Unlock()
		ing.stop()
		b.logger.Warn("duplicate audio track ignored", "participant", identity)
		return
	}
	b.ingress[identity] = ing
	b.mu.Unlock()

	b.logger.Info("audio track subscribed",
		"participant", identity, "track_id", speaker.TrackID)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ing.run(track)
	}()
	b.handler.OnSpeakerAudio(speaker, ing.out)
}

func (b *LiveKitBridge) dropSpeaker(identity string) {
	b.mu.Lock()
	ing, ok := b.ingress[identity]
	if ok {
		delete(b.ingress, identity)
	}
	b.mu.Unlock()
	if ok {
		ing.stop()
		b.logger.Info("audio track released", "participant", identity)
	}
}

// trackIngress turns one remote track into a stream of 16kHz mono PCM
// frames. The output channel closes when the track ends.
type trackIngress struct {
	speaker Speaker
	logger  *slog.Logger
	out     chan frames.AudioFrame

	decoder     *opus.Decoder
	resampler   *soxr.Resampler
	resampleBuf *bytes.Buffer

	ctx    context.Context
	cancel context.CancelFunc
}

func newTrackIngress(speaker Speaker, buffer int, logger *slog.Logger) (*trackIngress, error) {
	decoder, err := opus.NewDecoder(roomSampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("opus decoder: %w", err)
	}
	resampleBuf := &bytes.Buffer{}
	resampler, err := soxr.New(resampleBuf, roomSampleRate, targetSampleRate, 1, soxr.I16, soxr.HighQ)
	if err != nil {
		return nil, fmt.Errorf("resampler: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &trackIngress{
		speaker:     speaker,
		logger:      logger,
		out:         make(chan frames.AudioFrame, buffer),
		decoder:     decoder,
		resampler:   resampler,
		resampleBuf: resampleBuf,
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

func (t *trackIngress) stop() { t.cancel() }

func (t *trackIngress) run(track *webrtc.TrackRemote) {
	defer close(t.out)
	defer t.resampler.Close()

	buf := make([]byte, 1500)
	pkt := &rtp.Packet{}
	pcm48k := make([]int16, 960) // 20ms at 48kHz

	meta := map[string]string{
		frames.MetaParticipantName: t.speaker.Name,
		frames.MetaTrackID:         t.speaker.TrackID,
		frames.MetaSource:          "livekit",
	}

	for {
		select {
		case <-t.ctx.Done():
			return
		default:
		}

		n, _, err := track.Read(buf)
		if err != nil {
			if t.ctx.Err() == nil {
				t.logger.Info("track read ended",
					"participant", t.speaker.Identity, "error", err)
			}
			return
		}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			t.logger.Warn("bad rtp packet",
				"participant", t.speaker.Identity, "error", err)
			continue
		}
		if len(pkt.Payload) == 0 {
			continue // DTX
		}

		sampleCount, err := t.decoder.Decode(pkt.Payload, pcm48k)
		if err != nil || sampleCount == 0 {
			continue
		}

		pcm16k, err := t.resample(pcm48k[:sampleCount])
		if err != nil {
			t.logger.Warn("resample failed",
				"participant", t.speaker.Identity, "error", err)
			continue
		}
		if len(pcm16k) == 0 {
			continue // resampler still priming
		}

		frame := frames.NewAudioFrameFromPool(t.speaker.Identity, pcm16k, targetSampleRate, 1, meta)
		select {
		case t.out <- frame:
		default:
			// A stalled consumer must not back up the track reader.
			frames.ReleaseAudioFrame(frame)
			t.logger.Debug("audio frame dropped", "participant", t.speaker.Identity)
		}
	}
}

func (t *trackIngress) resample(samples []int16) ([]byte, error) {
	in := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(in[i*2:], uint16(s))
	}
	t.resampleBuf.Reset()
	if _, err := t.resampler.Write(in); err != nil {
		return nil, err
	}
	out := t.resampleBuf.Bytes()
	if len(out) == 0 {
		return nil, nil
	}
	return append([]byte(nil), out...), nil
}
