package tools

import "github.com/alexballas/mcp-jellyfin/internal/domain"

const (
	ToolBrowse          = "jellyfin_browse"
	ToolRecommendations = "jellyfin_get_recommendations"
	ToolNextUp          = "jellyfin_get_next_up"
	ToolListSessions    = "jellyfin_list_sessions"
	ToolPlayByName      = "jellyfin_play_by_name"
	ToolPlaybackControl = "jellyfin_playback_control"
	ToolSendCommand     = "jellyfin_send_command"

	ToolListCastTargets = "jellyfin_list_cast_targets"
	ToolCastByName      = "jellyfin_cast_by_name"
	ToolStopCast        = "jellyfin_stop_cast"
)

const (
	defaultLimit = 20
	maxLimit     = 20

	defaultDiscoveryTimeoutMS = 5000
	minDiscoveryTimeoutMS     = 100
	maxDiscoveryTimeoutMS     = 30000
)

func limitSchema() map[string]any {
	return map[string]any{
		"type":        "integer",
		"minimum":     1,
		"maximum":     maxLimit,
		"default":     defaultLimit,
		"description": "Maximum number of items to return.",
	}
}

func typesSchema() map[string]any {
	return map[string]any{
		"type": "array",
		"items": map[string]any{
			"type": "string",
			"enum": []string{"Series", "Movie", "Episode", "Audio", "MusicAlbum", "MusicVideo"},
		},
		"description": "Item types to include. Defaults to Series, Movie, Episode and Audio.",
	}
}

func sessionTargetProperties(props map[string]any) map[string]any {
	props["sessionId"] = map[string]any{
		"type":        "string",
		"minLength":   1,
		"description": "Explicit Jellyfin session id. Skips automatic session selection.",
	}
	props["deviceHint"] = map[string]any{
		"type":        "string",
		"description": "Part of a device name or id that identifies the intended player, e.g. 'living room'.",
	}
	return props
}

// playbackDefinitions are always registered.
func playbackDefinitions() []domain.ToolDefinition {
	return []domain.ToolDefinition{
		{
			Name:        ToolBrowse,
			Description: "Search or browse the Jellyfin library. Returns compact items (title, type, year, rating, series context, runtime).",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "Free-text search. Omit to list recently added items.",
					},
					"types": typesSchema(),
					"limit": limitSchema(),
				},
				"additionalProperties": false,
			},
		},
		{
			Name:        ToolRecommendations,
			Description: "Get personalised Jellyfin suggestions for the configured user.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"mediaType": map[string]any{
						"type":        "string",
						"enum":        []string{"Video", "Audio"},
						"description": "Restrict suggestions to one media type.",
					},
					"limit": limitSchema(),
				},
				"additionalProperties": false,
			},
		},
		{
			Name:        ToolNextUp,
			Description: "List the next unwatched episodes of in-progress series.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"seriesName": map[string]any{
						"type":        "string",
						"description": "Only return next-up episodes of series whose name contains this text.",
					},
					"limit": limitSchema(),
				},
				"additionalProperties": false,
			},
		},
		{
			Name:        ToolListSessions,
			Description: "List active Jellyfin client sessions that playback can target.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"controllableOnly": map[string]any{
						"type":        "boolean",
						"default":     false,
						"description": "Hide sessions that explicitly do not support remote control.",
					},
				},
				"additionalProperties": false,
			},
		},
		{
			Name:        ToolPlayByName,
			Description: "Find a library item by name and start playing it on a Jellyfin session. A series starts at its first episode.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": sessionTargetProperties(map[string]any{
					"query": map[string]any{
						"type":        "string",
						"minLength":   1,
						"description": "Title to play.",
					},
					"types": typesSchema(),
					"playCommand": map[string]any{
						"type":    "string",
						"enum":    []string{"PlayNow", "PlayNext", "PlayLast"},
						"default": "PlayNow",
					},
				}),
				"required":             []string{"query"},
				"additionalProperties": false,
			},
		},
		{
			Name:        ToolPlaybackControl,
			Description: "Pause, resume, stop, toggle, skip forward or back on the active Jellyfin player.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": sessionTargetProperties(map[string]any{
					"action": map[string]any{
						"type": "string",
						"enum": []string{"pause", "resume", "stop", "toggle", "next", "previous"},
					},
				}),
				"required":             []string{"action"},
				"additionalProperties": false,
			},
		},
		{
			Name:        ToolSendCommand,
			Description: "Send a general Jellyfin session command such as DisplayMessage, SetVolume or GoHome.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": sessionTargetProperties(map[string]any{
					"command": map[string]any{
						"type":        "string",
						"minLength":   1,
						"description": "Jellyfin GeneralCommand name.",
					},
					"arguments": map[string]any{
						"type":                 "object",
						"additionalProperties": map[string]any{"type": "string"},
						"description":          "Command arguments, e.g. {\"Volume\": \"40\"}.",
					},
				}),
				"required":             []string{"command"},
				"additionalProperties": false,
			},
		},
	}
}

// castDefinitions are registered only when a cast controller is wired.
func castDefinitions() []domain.ToolDefinition {
	return []domain.ToolDefinition{
		{
			Name:        ToolListCastTargets,
			Description: "Discover Chromecast devices on the local network that can receive a Jellyfin stream. Call this before jellyfin_cast_by_name.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"timeoutMs": map[string]any{
						"type":        "integer",
						"minimum":     minDiscoveryTimeoutMS,
						"maximum":     maxDiscoveryTimeoutMS,
						"default":     defaultDiscoveryTimeoutMS,
						"description": "Discovery timeout in milliseconds.",
					},
				},
				"additionalProperties": false,
			},
		},
		{
			Name:        ToolCastByName,
			Description: "Find a library item by name and stream it directly to a LAN Chromecast, bypassing Jellyfin clients.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{
						"type":      "string",
						"minLength": 1,
					},
					"targetDevice": map[string]any{
						"type":        "string",
						"minLength":   1,
						"description": "Device id or name from jellyfin_list_cast_targets.",
					},
					"types": typesSchema(),
				},
				"required":             []string{"query", "targetDevice"},
				"additionalProperties": false,
			},
		},
		{
			Name:        ToolStopCast,
			Description: "Stop a cast started with jellyfin_cast_by_name.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"targetDevice": map[string]any{
						"type":      "string",
						"minLength": 1,
					},
					"castId": map[string]any{
						"type":      "string",
						"minLength": 1,
					},
				},
				"anyOf": []any{
					map[string]any{"required": []string{"targetDevice"}},
					map[string]any{"required": []string{"castId"}},
				},
				"additionalProperties": false,
			},
		},
	}
}
