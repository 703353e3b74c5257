package media

// Stream groups the tracks returned by one GetUserMedia call.
type Stream struct {
	ID     string
	tracks []*LocalTrack
}

// NewStream bundles tracks under id.
func NewStream(id string, tracks ...*LocalTrack) *Stream {
	return &Stream{ID: id, tracks: tracks}
}

// Tracks returns every track in the stream.
func (s *Stream) Tracks() []*LocalTrack {
	return s.tracks
}

// AudioTracks returns the audio tracks.
func (s *Stream) AudioTracks() []*LocalTrack {
	return s.byKind(KindAudio)
}

// VideoTracks returns the video tracks.
func (s *Stream) VideoTracks() []*LocalTrack {
	return s.byKind(KindVideo)
}

func (s *Stream) byKind(kind Kind) []*LocalTrack {
	var out []*LocalTrack
	for _, t := range s.tracks {
		if t.Kind() == kind {
			out = append(out, t)
		}
	}
	return out
}

// Stop stops every track, releasing the capture device.
func (s *Stream) Stop() {
	for _, t := range s.tracks {
		t.Stop()
	}
}
