package stt

import (
	"fmt"
	"strings"

	"cloud.google.com/go/speech/apiv1/speechpb"

	"github.com/resonira/voiceagent/domain/entities"
	"github.com/resonira/voiceagent/domain/repositories"
)

type recognitionConfig struct {
	Encoding                   string
	SampleRateHertz            int
	LanguageCode               string
	Model                      string
	UseEnhanced                bool
	EnableAutomaticPunctuation bool
}

func buildRecognitionConfig(audio entities.AudioBuffer, config repositories.AudioConfig) recognitionConfig {
	encoding := audio.Encoding
	if encoding == "" {
		encoding = config.Encoding
	}

	rc := recognitionConfig{
		Encoding:                   encoding,
		LanguageCode:               config.Language,
		Model:                      config.Model,
		UseEnhanced:                config.UseEnhanced,
		EnableAutomaticPunctuation: config.EnablePunctuation,
	}
	// the service reads the rate from the container for compressed input
	if encoding == entities.EncodingLinear16 {
		rc.SampleRateHertz = audio.SampleRate
		if rc.SampleRateHertz == 0 {
			rc.SampleRateHertz = config.SampleRate
		}
	}
	if rc.LanguageCode == "" {
		rc.LanguageCode = "en-US"
	}
	return rc
}

func protoRecognitionConfig(audio entities.AudioBuffer, config repositories.AudioConfig) (*speechpb.RecognitionConfig, error) {
	rc := buildRecognitionConfig(audio, config)
	encoding, err := getAudioEncoding(rc.Encoding)
	if err != nil {
		return nil, err
	}
	return &speechpb.RecognitionConfig{
		Encoding:                   encoding,
		SampleRateHertz:            int32(rc.SampleRateHertz),
		LanguageCode:               rc.LanguageCode,
		Model:                      rc.Model,
		UseEnhanced:                rc.UseEnhanced,
		EnableAutomaticPunctuation: rc.EnableAutomaticPunctuation,
	}, nil
}

// transcriptFromProto joins the top alternative of every result and
// averages their confidence.
func transcriptFromProto(results []*speechpb.SpeechRecognitionResult) repositories.Transcript {
	var parts []string
	var confidence float64
	for _, result := range results {
		if len(result.GetAlternatives()) == 0 {
			continue
		}
		top := result.Alternatives[0]
		parts = append(parts, strings.TrimSpace(top.Transcript))
		confidence += float64(top.Confidence)
	}
	if len(parts) == 0 {
		return repositories.Transcript{}
	}
	return repositories.Transcript{
		Text:       strings.TrimSpace(strings.Join(parts, " ")),
		Confidence: confidence / float64(len(parts)),
	}
}

// getAudioEncoding converts string encoding to Google Speech API enum
func getAudioEncoding(encoding string) (speechpb.RecognitionConfig_AudioEncoding, error) {
	switch encoding {
	case "WAV", entities.EncodingLinear16:
		return speechpb.RecognitionConfig_LINEAR16, nil
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC, nil
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW, nil
	case entities.EncodingOggOpus:
		return speechpb.RecognitionConfig_OGG_OPUS, nil
	case entities.EncodingWebMOpus:
		return speechpb.RecognitionConfig_WEBM_OPUS, nil
	case "AMR":
		return speechpb.RecognitionConfig_AMR, nil
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, fmt.Errorf("unsupported encoding: %s", encoding)
	}
}
