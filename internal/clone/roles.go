package clone

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/dyadbot/replica/internal/governor"
	"github.com/dyadbot/replica/internal/mapping"
	"github.com/dyadbot/replica/internal/platform"
)

// CloneRoles recreates the source role hierarchy. Roles are created in
// ascending precedence so positions come out right without a reorder pass;
// @everyone is edited in place since every guild already has one. Managed
// roles belong to integrations and cannot be recreated.
func (c *Cloner) CloneRoles(ctx context.Context, snap *Snapshot) error {
	target, err := c.targetGuild(ctx)
	if err != nil {
		return err
	}
	iconsAllowed := platform.RoleIconsAllowed(target.PremiumTier)

	for _, role := range snap.SortedRoles() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if role.Managed {
			c.log.Debug("skipping managed role", "role", role.ID, "name", role.Name)
			continue
		}

		if role.ID == c.sourceGuildID {
			if err := c.cloneEveryone(ctx, role); err != nil {
				return err
			}
			continue
		}
		// A resumed step skips roles an earlier attempt already created.
		if _, ok := c.table.Get(mapping.KindRole, role.ID); ok {
			c.log.Debug("role already mapped, skipping", "role", role.ID, "name", role.Name)
			continue
		}

		created, err := c.createRole(ctx, role, iconsAllowed)
		if err != nil {
			c.log.Warn("creating role failed", "role", role.ID, "name", role.Name, "error", err)
			continue
		}
		if role.UnicodeEmoji != "" {
			c.applyRoleEmoji(ctx, created.ID, role)
		}

		if err := c.table.Put(mapping.KindRole, role.ID, mapping.Entity{ID: created.ID, Name: role.Name}); err != nil {
			return fmt.Errorf("map role %s: %w", role.ID, err)
		}
		c.table.PutName(mapping.KindRole, role.Name, mapping.Entity{ID: created.ID, Name: role.Name})
		c.log.Debug("cloned role", "source", role.ID, "target", created.ID, "name", role.Name)
	}
	return nil
}

// cloneEveryone edits the target's @everyone in place. Its id equals the
// guild id on both sides.
func (c *Cloner) cloneEveryone(ctx context.Context, role *discordgo.Role) error {
	params := roleParams(role)
	err := c.gov.Do(ctx, governor.RouteMutation, func(ctx context.Context) error {
		_, eerr := c.client.EditRole(ctx, c.targetGuildID, c.targetGuildID, params)
		return eerr
	})
	if err != nil {
		return fmt.Errorf("edit @everyone: %w", err)
	}
	if err := c.table.Put(mapping.KindRole, role.ID, mapping.Entity{ID: c.targetGuildID, Name: role.Name}); err != nil {
		return fmt.Errorf("map @everyone: %w", err)
	}
	c.log.Debug("applied @everyone permissions")
	return nil
}

// createRole creates one role, attaching the custom icon when the target's
// boost tier allows it. A rejection of the icon payload retries once
// without it so a lower-tier target still gets the role.
func (c *Cloner) createRole(ctx context.Context, role *discordgo.Role, iconsAllowed bool) (*discordgo.Role, error) {
	params := roleParams(role)
	if iconsAllowed && role.Icon != "" {
		if uri, ok := c.downloadRoleIcon(ctx, role); ok {
			params.Icon = &uri
		}
	}

	create := func(p *discordgo.RoleParams) (*discordgo.Role, error) {
		var created *discordgo.Role
		err := c.gov.Do(ctx, governor.RouteMutation, func(ctx context.Context) error {
			var cerr error
			created, cerr = c.client.CreateRole(ctx, c.targetGuildID, p)
			return cerr
		})
		return created, err
	}

	created, err := create(params)
	if err != nil && params.Icon != nil && platform.CodeOf(err) != 0 {
		c.log.Info("role icon rejected, retrying without", "role", role.Name, "error", err)
		params.Icon = nil
		created, err = create(params)
	}
	return created, err
}

// applyRoleEmoji sets the unicode emoji in a follow-up edit; it shares the
// icon slot and cannot ride the create payload alongside one.
func (c *Cloner) applyRoleEmoji(ctx context.Context, targetRoleID string, role *discordgo.Role) {
	emoji := role.UnicodeEmoji
	err := c.gov.Do(ctx, governor.RouteMutation, func(ctx context.Context) error {
		_, eerr := c.client.EditRole(ctx, c.targetGuildID, targetRoleID, &discordgo.RoleParams{
			Name:         role.Name,
			UnicodeEmoji: &emoji,
		})
		return eerr
	})
	if err != nil {
		c.log.Warn("applying role emoji failed", "role", role.Name, "error", err)
	}
}

func (c *Cloner) downloadRoleIcon(ctx context.Context, role *discordgo.Role) (string, bool) {
	url := discordgo.EndpointRoleIcon(role.ID, role.Icon)
	data, contentType, err := c.client.Download(ctx, url)
	if err != nil {
		c.log.Warn("downloading role icon failed", "role", role.Name, "error", err)
		return "", false
	}
	return dataURI(contentType, data), true
}

func roleParams(role *discordgo.Role) *discordgo.RoleParams {
	color := role.Color
	hoist := role.Hoist
	perms := role.Permissions
	mentionable := role.Mentionable
	return &discordgo.RoleParams{
		Name:        role.Name,
		Color:       &color,
		Hoist:       &hoist,
		Permissions: &perms,
		Mentionable: &mentionable,
	}
}
