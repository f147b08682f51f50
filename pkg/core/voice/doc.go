// Package voice implements the audio edges of a live session: the capture
// pipeline that turns microphone samples into 16 kHz PCM16 frames, and the
// playback scheduler that lays 24 kHz model audio back to back on an
// output timeline.
package voice
