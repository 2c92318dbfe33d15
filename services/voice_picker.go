package services

import (
	"crypto/sha1"
	"encoding/binary"
	"strings"

	"github.com/voxprep/backend/models"
)

// Stock provider voice IDs. Interviews use the measured, formal voices;
// training sessions the warmer conversational ones.
var interviewVoices = []string{
	"21m00Tcm4TlvDq8ikWAM", // Domi
	"ErXwobaYiN019PkySvjV", // Elli
	"pNInz6obpgDQGcFmaJgB", // Adam
	"VR6AewLTigWG4xSOukaG", // Josh
}

var trainingVoices = []string{
	"EXAVITQu4vr4xnSDxMaL", // Rachel
	"MF3mGyEYCl7XYWbV9V6O", // Dorothy
	"TxGEqnHWrfWFTfGW9XjX", // Antoni
	"bVMeCyTHy58xNoL34h3p", // Clyde
}

// PickEntityVoice returns a stock provider voice ID for an entity. The pick
// hashes the title together with the domain or category, so the same entity
// always speaks with the same voice across calls.
func PickEntityVoice(entity *models.Entity) string {
	pool := interviewVoices
	subject := entity.Domain
	if entity.Type == models.EntityTypeTraining {
		pool = trainingVoices
		subject = entity.Category
	}
	h := sha1.New()
	h.Write([]byte(strings.ToLower(entity.Title + "/" + subject)))
	sum := h.Sum(nil)
	idx := binary.BigEndian.Uint16(sum) % uint16(len(pool))
	return pool[idx]
}
