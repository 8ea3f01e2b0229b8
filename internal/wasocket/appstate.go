package wasocket

import (
	"time"

	"go.mau.fi/whatsmeow/appstate"
	"go.mau.fi/whatsmeow/proto/waCommon"
	"go.mau.fi/whatsmeow/proto/waSyncAction"
	waTypes "go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"
)

// App state patch construction for chat mutations. The mute/pin/archive/star
// cases wrap the upstream builders; the read/clear/delete cases assemble the
// sync actions directly since no builder exists for them.

func buildArchivePatch(jid waTypes.JID, archived bool) appstate.PatchInfo {
	return appstate.BuildArchive(jid, archived, time.Time{}, (*waCommon.MessageKey)(nil))
}

func buildPinPatch(jid waTypes.JID, pinned bool) appstate.PatchInfo {
	return appstate.BuildPin(jid, pinned)
}

func buildMutePatch(jid waTypes.JID, muted bool, duration time.Duration) appstate.PatchInfo {
	if !muted {
		duration = 0
	}
	return appstate.BuildMute(jid, muted, duration)
}

func buildStarPatch(chat, sender waTypes.JID, messageID string, starred bool) appstate.PatchInfo {
	return appstate.BuildStar(chat, sender, waTypes.MessageID(messageID), true, starred)
}

func buildMarkChatAsReadPatch(jid waTypes.JID, read bool) appstate.PatchInfo {
	return appstate.PatchInfo{
		Type: appstate.WAPatchRegularLow,
		Mutations: []appstate.MutationInfo{{
			Index:   []string{appstate.IndexMarkChatAsRead, jid.String()},
			Version: 3,
			Value: &waSyncAction.SyncActionValue{
				MarkChatAsReadAction: &waSyncAction.MarkChatAsReadAction{
					Read: proto.Bool(read),
					MessageRange: &waSyncAction.SyncActionMessageRange{
						LastMessageTimestamp: proto.Int64(time.Now().Unix()),
					},
				},
			},
		}},
	}
}

func buildClearChatPatch(jid waTypes.JID) appstate.PatchInfo {
	return appstate.PatchInfo{
		Type: appstate.WAPatchRegularHigh,
		Mutations: []appstate.MutationInfo{{
			Index:   []string{appstate.IndexClearChat, jid.String()},
			Version: 6,
			Value: &waSyncAction.SyncActionValue{
				ClearChatAction: &waSyncAction.ClearChatAction{
					MessageRange: &waSyncAction.SyncActionMessageRange{
						LastMessageTimestamp: proto.Int64(time.Now().Unix()),
					},
				},
			},
		}},
	}
}

func buildDeleteChatPatch(jid waTypes.JID) appstate.PatchInfo {
	return appstate.PatchInfo{
		Type: appstate.WAPatchRegularHigh,
		Mutations: []appstate.MutationInfo{{
			Index:   []string{appstate.IndexDeleteChat, jid.String()},
			Version: 6,
			Value: &waSyncAction.SyncActionValue{
				DeleteChatAction: &waSyncAction.DeleteChatAction{
					MessageRange: &waSyncAction.SyncActionMessageRange{
						LastMessageTimestamp: proto.Int64(time.Now().Unix()),
					},
				},
			},
		}},
	}
}

func buildDeleteMessageForMePatch(jid waTypes.JID, messageID, owner string) appstate.PatchInfo {
	return appstate.PatchInfo{
		Type: appstate.WAPatchRegularHigh,
		Mutations: []appstate.MutationInfo{{
			Index:   []string{appstate.IndexDeleteMessageForMe, jid.String(), messageID, "0", owner},
			Version: 3,
			Value: &waSyncAction.SyncActionValue{
				DeleteMessageForMeAction: &waSyncAction.DeleteMessageForMeAction{
					DeleteMedia:      proto.Bool(true),
					MessageTimestamp: proto.Int64(time.Now().Unix()),
				},
			},
		}},
	}
}
