// Package live runs one spoken conversation with a hosted real-time model.
//
// A Controller owns the microphone capture, the remote stream and the
// playback scheduler for the duration of a session and moves through
// these states:
//
//	IDLE → LISTENING ⇄ SPEAKING
//	          │  ↑         │
//	          ↓  │         ↓
//	        THINKING     ENDING → IDLE
//
//	any active state → ERROR (transport failure, inactivity)
//
// All session state is owned by a single event loop goroutine. Remote
// events, playback drain notifications, tool results and host commands are
// delivered to it over channels and handled strictly in arrival order.
//
// # Turns
//
// Input transcription accumulates until the model starts answering (first
// output transcription, audio chunk or tool call). At that boundary the
// pending input becomes a user message and a new AI turn id is allocated;
// output text accumulates until turn completion and is written to the
// message carrying that id. Tool results attach to the same id, so an
// image that arrives after the text mutates the existing message.
//
// # Barge-in and stop phrases
//
// New input transcription while audio is playing stops every scheduled
// buffer. Input ending with a configured stop phrase ends the session
// politely: capture and stream close at once, a goodbye utterance plays,
// then resources are released.
package live
