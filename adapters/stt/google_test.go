package stt_test

import (
	"github.com/resonira/voiceagent/adapters/stt"
	"github.com/resonira/voiceagent/domain/repositories"
)

var (
	_ repositories.SpeechToText          = &stt.GoogleSpeechToText{}
	_ repositories.StreamingSpeechToText = &stt.GoogleSpeechToText{}
	_ repositories.SpeechToText          = &stt.RESTSpeechToText{}
	_ repositories.StreamingSpeechToText = &stt.RelaySpeechToText{}
)
