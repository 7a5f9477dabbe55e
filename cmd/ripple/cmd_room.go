/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/ripple/internal/db"
	"github.com/friendsincode/ripple/internal/models"
	"github.com/friendsincode/ripple/internal/rooms"
)

var (
	roomName    string
	roomCreator string
	roomPrivate bool
)

var roomCmd = &cobra.Command{
	Use:   "room",
	Short: "Manage room records",
}

var roomCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a room record",
	Long: `Create a room record and print its id.

Examples:
  ripple room create --name "late night" --creator u1
`,
	RunE: runRoomCreate,
}

func init() {
	roomCreateCmd.Flags().StringVar(&roomName, "name", "", "Room name (required)")
	roomCreateCmd.Flags().StringVar(&roomCreator, "creator", "", "Creator participant id")
	roomCreateCmd.Flags().BoolVar(&roomPrivate, "private", false, "Hide the room from listings")
	_ = roomCreateCmd.MarkFlagRequired("name")
	roomCmd.AddCommand(roomCreateCmd)
	rootCmd.AddCommand(roomCmd)
}

func runRoomCreate(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	database, err := db.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close(database)

	if err := db.Migrate(database); err != nil {
		return err
	}

	room := &models.Room{Name: roomName, CreatorID: roomCreator, AccessType: models.RoomAccessPublic}
	if roomPrivate {
		room.AccessType = models.RoomAccessPrivate
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := rooms.NewRepository(database).Create(ctx, room); err != nil {
		return err
	}

	logger.Info().Str("room_id", room.ID).Str("name", room.Name).Msg("room created")
	fmt.Fprintln(cmd.OutOrStdout(), room.ID)
	return nil
}
