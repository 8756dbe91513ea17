package platform

import "github.com/bwmarrin/discordgo"

// Advertised per-guild resource ceilings by boost tier. The platform rejects
// creations past these, so cloners clamp before attempting.

// EmojiLimit returns the custom emoji slot count for a boost tier.
func EmojiLimit(tier discordgo.PremiumTier) int {
	switch tier {
	case discordgo.PremiumTier1:
		return 100
	case discordgo.PremiumTier2:
		return 150
	case discordgo.PremiumTier3:
		return 250
	default:
		return 50
	}
}

// StickerLimit returns the custom sticker slot count for a boost tier.
func StickerLimit(tier discordgo.PremiumTier) int {
	switch tier {
	case discordgo.PremiumTier1:
		return 15
	case discordgo.PremiumTier2:
		return 30
	case discordgo.PremiumTier3:
		return 60
	default:
		return 5
	}
}

// BitrateLimit returns the maximum voice bitrate for a boost tier.
func BitrateLimit(tier discordgo.PremiumTier) int {
	switch tier {
	case discordgo.PremiumTier1:
		return 128_000
	case discordgo.PremiumTier2:
		return 256_000
	case discordgo.PremiumTier3:
		return 384_000
	default:
		return 96_000
	}
}

// RoleIconsAllowed reports whether custom role icons are available.
func RoleIconsAllowed(tier discordgo.PremiumTier) bool {
	return tier >= discordgo.PremiumTier2
}
